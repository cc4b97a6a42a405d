package envelope_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ciphermount/ciphermount/internal/envelope"
)

func keyOf(b byte) envelope.Key {
	var k envelope.Key
	for i := range k {
		k[i] = b
	}
	return k
}

func TestRoundTrip(t *testing.T) {
	key := keyOf(0x42)
	plaintext := []byte("Hello, CipherMount!")

	blob, err := envelope.Encrypt(key, plaintext)
	require.NoError(t, err)
	assert.Len(t, blob, len(plaintext)+envelope.MinBlobSize)

	got, err := envelope.Decrypt(key, blob)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestEmptyPlaintext(t *testing.T) {
	key := keyOf(0x42)

	blob, err := envelope.Encrypt(key, nil)
	require.NoError(t, err)
	assert.Len(t, blob, envelope.MinBlobSize)

	got, err := envelope.Decrypt(key, blob)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWrongKeyFails(t *testing.T) {
	k1, k2 := keyOf(0x01), keyOf(0x02)

	blob, err := envelope.Encrypt(k1, []byte("secret"))
	require.NoError(t, err)

	_, err = envelope.Decrypt(k2, blob)
	assert.ErrorIs(t, err, envelope.ErrAuthFailed)
}

func TestTruncatedInputTooShort(t *testing.T) {
	key := keyOf(0x42)

	_, err := envelope.Decrypt(key, make([]byte, 10))
	assert.ErrorIs(t, err, envelope.ErrTooShort)
}

func TestNonceFreshness(t *testing.T) {
	key := keyOf(0xAA)
	plaintext := []byte("same input")

	blob1, err := envelope.Encrypt(key, plaintext)
	require.NoError(t, err)
	blob2, err := envelope.Encrypt(key, plaintext)
	require.NoError(t, err)

	assert.False(t, bytes.Equal(blob1, blob2), "two encryptions of the same plaintext must differ")
}

func TestSingleBitFlipBreaksAuth(t *testing.T) {
	key := keyOf(0x42)

	blob, err := envelope.Encrypt(key, []byte("tamper me"))
	require.NoError(t, err)

	for _, idx := range []int{0, envelope.NonceSize, len(blob) - 1} {
		tampered := append([]byte(nil), blob...)
		tampered[idx] ^= 0x01

		_, err := envelope.Decrypt(key, tampered)
		assert.ErrorIsf(t, err, envelope.ErrAuthFailed, "flipping bit at byte %d should fail auth", idx)
	}
}

func TestBlobTooShortByOneByte(t *testing.T) {
	key := keyOf(0x42)

	blob, err := envelope.Encrypt(key, []byte("x"))
	require.NoError(t, err)

	_, err = envelope.Decrypt(key, blob[:envelope.MinBlobSize-1])
	assert.ErrorIs(t, err, envelope.ErrTooShort)
}

func TestNewKeyRejectsWrongLength(t *testing.T) {
	_, err := envelope.NewKey(make([]byte, 16))
	assert.Error(t, err)

	k, err := envelope.NewKey(make([]byte, envelope.KeySize))
	require.NoError(t, err)
	assert.Equal(t, envelope.Key{}, k)
}
