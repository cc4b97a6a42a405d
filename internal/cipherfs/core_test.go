package cipherfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ciphermount/ciphermount/internal/envelope"
)

func testKey(t *testing.T) envelope.Key {
	t.Helper()
	var raw [envelope.KeySize]byte
	for i := range raw {
		raw[i] = byte(i)
	}
	key, err := envelope.NewKey(raw[:])
	require.NoError(t, err)
	return key
}

func newTestCore(t *testing.T) (*Core, string) {
	t.Helper()
	root := t.TempDir()
	return NewCore(root, testKey(t)), root
}

// TestWriteThroughMount writes "abc" at offset 0, reads it back, and
// confirms the backing file is an envelope whose decrypted contents are
// exactly "abc".
func TestWriteThroughMount(t *testing.T) {
	c, root := newTestCore(t)

	ino, _, err := c.Create(fuseops.RootInodeID, "greeting")
	require.NoError(t, err)

	n, err := c.WriteAt(ino, 0, []byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := c.ReadAt(ino, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	raw, err := os.ReadFile(filepath.Join(root, "greeting"))
	require.NoError(t, err)
	assert.Len(t, raw, 3+envelope.NonceSize+envelope.TagSize)

	plaintext, err := envelope.Decrypt(testKey(t), raw)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), plaintext)
}

// TestHoleFill writes "xyz" at offset 5 into a fresh file and confirms the
// gap zero-extends.
func TestHoleFill(t *testing.T) {
	c, _ := newTestCore(t)

	ino, _, err := c.Create(fuseops.RootInodeID, "sparse")
	require.NoError(t, err)

	_, err = c.WriteAt(ino, 5, []byte("xyz"))
	require.NoError(t, err)

	got, err := c.ReadAt(ino, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 'x', 'y', 'z'}, got)
}

// TestOverwrite confirms a second write at offset 0 splices into the
// existing plaintext rather than appending.
func TestOverwrite(t *testing.T) {
	c, _ := newTestCore(t)

	ino, _, err := c.Create(fuseops.RootInodeID, "word")
	require.NoError(t, err)

	_, err = c.WriteAt(ino, 0, []byte("hello"))
	require.NoError(t, err)
	_, err = c.WriteAt(ino, 0, []byte("J"))
	require.NoError(t, err)

	got, err := c.ReadAt(ino, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("Jello"), got)
}

// TestLookupStability confirms repeated lookups of the same path return
// the same inode number.
func TestLookupStability(t *testing.T) {
	c, root := newTestCore(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a"), []byte("irrelevant"), 0o600))

	ino1, _, err := c.Lookup(fuseops.RootInodeID, "a")
	require.NoError(t, err)

	ino2, _, err := c.Lookup(fuseops.RootInodeID, "a")
	require.NoError(t, err)

	assert.Equal(t, ino1, ino2)
}

func TestLookupMissingReturnsNotFound(t *testing.T) {
	c, _ := newTestCore(t)

	_, _, err := c.Lookup(fuseops.RootInodeID, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadAtPastEndOfFileIsEmpty(t *testing.T) {
	c, _ := newTestCore(t)

	ino, _, err := c.Create(fuseops.RootInodeID, "short")
	require.NoError(t, err)
	_, err = c.WriteAt(ino, 0, []byte("hi"))
	require.NoError(t, err)

	got, err := c.ReadAt(ino, 100, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadAtOnBlankFileIsEmpty(t *testing.T) {
	c, _ := newTestCore(t)

	ino, _, err := c.Create(fuseops.RootInodeID, "blank")
	require.NoError(t, err)

	got, err := c.ReadAt(ino, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetAttrReportsPlaintextSize(t *testing.T) {
	c, _ := newTestCore(t)

	ino, _, err := c.Create(fuseops.RootInodeID, "sized")
	require.NoError(t, err)
	_, err = c.WriteAt(ino, 0, []byte("0123456789"))
	require.NoError(t, err)

	attr, err := c.GetAttr(ino)
	require.NoError(t, err)
	assert.EqualValues(t, 10, attr.Size)
}

func TestWriteOnCorruptedEnvelopeFailsClosed(t *testing.T) {
	c, root := newTestCore(t)

	ino, _, err := c.Create(fuseops.RootInodeID, "corrupt")
	require.NoError(t, err)
	_, err = c.WriteAt(ino, 0, []byte("hello"))
	require.NoError(t, err)

	// Flip a byte inside the ciphertext region so decryption fails
	// authentication on the next write.
	path := filepath.Join(root, "corrupt")
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[envelope.NonceSize] ^= 0xFF
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	_, err = c.WriteAt(ino, 0, []byte("J"))
	assert.ErrorIs(t, err, ErrIO)
}

func TestReadDirIncludesDotEntries(t *testing.T) {
	c, root := newTestCore(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "a"), nil, 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(root, "b"), 0o700))

	entries, err := c.ReadDir(fuseops.RootInodeID)
	require.NoError(t, err)

	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	assert.Equal(t, []string{".", "..", "a", "b"}, names)
}

func TestUnlinkThenLookupFails(t *testing.T) {
	c, _ := newTestCore(t)

	_, _, err := c.Create(fuseops.RootInodeID, "doomed")
	require.NoError(t, err)
	require.NoError(t, c.Unlink(fuseops.RootInodeID, "doomed"))

	_, _, err = c.Lookup(fuseops.RootInodeID, "doomed")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRmdirRemovesEmptyDirectory(t *testing.T) {
	c, root := newTestCore(t)

	_, _, err := c.Mkdir(fuseops.RootInodeID, "empty")
	require.NoError(t, err)
	require.NoError(t, c.Rmdir(fuseops.RootInodeID, "empty"))

	_, err = os.Stat(filepath.Join(root, "empty"))
	assert.True(t, os.IsNotExist(err))
}
