// Package cipherfs implements the CipherMount FUSE handler. This file
// holds the "core": FUSE-agnostic operations over paths and byte slices,
// unit-testable without any kernel transport. cipherfs.go is the thin
// fuseutil.FileSystem adapter that drives it.
package cipherfs

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/jacobsa/fuse/fuseops"

	"github.com/ciphermount/ciphermount/internal/atomicfile"
	"github.com/ciphermount/ciphermount/internal/envelope"
	"github.com/ciphermount/ciphermount/internal/registry"
)

// Sentinel errors the adapter translates into FUSE errnos. They never
// escape this package's exported API wrapped in anything other than
// errors.Is-compatible form.
var (
	ErrNotFound      = errors.New("cipherfs: not found")
	ErrNotADirectory = errors.New("cipherfs: not a directory")
	ErrIO            = errors.New("cipherfs: i/o failure")
)

// envelopeOverhead is nonce+tag: the constant cost of wrapping a plaintext
// in an envelope blob.
const envelopeOverhead = envelope.NonceSize + envelope.TagSize

// Attr is the plain, FUSE-agnostic attribute bundle core operations hand
// back; the adapter converts it into fuseops.InodeAttributes.
type Attr struct {
	Size  uint64
	IsDir bool
	Mode  os.FileMode
	Mtime time.Time
	Nlink uint32
}

// DirEntry is a single readdir row, already including the synthesized "."
// and ".." rows at positions 0 and 1.
type DirEntry struct {
	Inode fuseops.InodeID
	Name  string
	IsDir bool
}

// Core holds the state a CipherMount mount needs for its lifetime: the key,
// the backing root, and the inode registry. The zero value is not usable;
// construct with NewCore.
type Core struct {
	key envelope.Key
	reg *registry.Registry
}

// NewCore creates a Core rooted at root (the backing source directory),
// registering it as fuseops.RootInodeID.
func NewCore(root string, key envelope.Key) *Core {
	return &Core{
		key: key,
		reg: registry.New(filepath.Clean(root)),
	}
}

// PathFor exposes the registry lookup the adapter needs for OpenDir and
// OpenFile, which don't otherwise touch backing I/O.
func (c *Core) PathFor(ino fuseops.InodeID) (string, bool) {
	return c.reg.PathFor(ino)
}

// GetAttr resolves ino to its backing path and stats it.
func (c *Core) GetAttr(ino fuseops.InodeID) (Attr, error) {
	path, ok := c.reg.PathFor(ino)
	if !ok {
		return Attr{}, ErrNotFound
	}
	return statAttr(path)
}

// Lookup resolves name within the directory at parentIno, registering the
// child's inode if found.
func (c *Core) Lookup(parentIno fuseops.InodeID, name string) (fuseops.InodeID, Attr, error) {
	parentPath, ok := c.reg.PathFor(parentIno)
	if !ok {
		return 0, Attr{}, ErrNotFound
	}

	childPath := filepath.Join(parentPath, name)
	attr, err := statAttr(childPath)
	if err != nil {
		return 0, Attr{}, err
	}

	return c.reg.Register(childPath), attr, nil
}

// ReadDir lists the directory at ino, synthesizing "." and ".." at
// positions 0 and 1 and registering every child path it encounters, as
// required so that later lookups/getattrs on those children succeed.
func (c *Core) ReadDir(ino fuseops.InodeID) ([]DirEntry, error) {
	path, ok := c.reg.PathFor(ino)
	if !ok {
		return nil, ErrNotFound
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, ErrNotFound
	}
	if !info.IsDir() {
		return nil, ErrNotADirectory
	}

	children, err := os.ReadDir(path)
	if err != nil {
		return nil, ErrIO
	}

	entries := make([]DirEntry, 0, len(children)+2)
	entries = append(entries,
		DirEntry{Inode: ino, Name: ".", IsDir: true},
		DirEntry{Inode: ino, Name: "..", IsDir: true},
	)
	for _, child := range children {
		childPath := filepath.Join(path, child.Name())
		entries = append(entries, DirEntry{
			Inode: c.reg.Register(childPath),
			Name:  child.Name(),
			IsDir: child.IsDir(),
		})
	}

	return entries, nil
}

// ReadAt decrypts the backing file for ino and returns the plaintext slice
// [offset, offset+size): a backing file shorter than the envelope minimum
// reads as blank, a decrypt failure is ErrIO, and an offset past the end
// of the plaintext reads as empty.
func (c *Core) ReadAt(ino fuseops.InodeID, offset int64, size int) ([]byte, error) {
	path, ok := c.reg.PathFor(ino)
	if !ok {
		return nil, ErrNotFound
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, ErrIO
	}

	if len(raw) < envelope.MinBlobSize {
		return []byte{}, nil
	}

	plaintext, err := envelope.Decrypt(c.key, raw)
	if err != nil {
		return nil, ErrIO
	}

	if offset < 0 || int(offset) >= len(plaintext) {
		return []byte{}, nil
	}

	end := int(offset) + size
	if end > len(plaintext) {
		end = len(plaintext)
	}
	return plaintext[offset:end], nil
}

// WriteAt performs the read-modify-write cycle that is the heart of
// CipherMount: decrypt the current envelope (if any), splice data in at
// offset (zero-extending as needed), re-encrypt with a fresh nonce, and
// replace the backing file atomically. It returns the number of bytes
// written, matching pwrite(2) semantics.
//
// If the existing backing file is >= the envelope minimum but fails to
// authenticate, this returns ErrIO rather than silently discarding the
// file's contents.
func (c *Core) WriteAt(ino fuseops.InodeID, offset int64, data []byte) (int, error) {
	path, ok := c.reg.PathFor(ino)
	if !ok {
		return 0, ErrNotFound
	}

	plaintext, err := currentPlaintext(c.key, path)
	if err != nil {
		return 0, err
	}

	end := int(offset) + len(data)
	if len(plaintext) < end {
		grown := make([]byte, end)
		copy(grown, plaintext)
		plaintext = grown
	}
	copy(plaintext[offset:end], data)

	blob, err := envelope.Encrypt(c.key, plaintext)
	if err != nil {
		return 0, ErrIO
	}
	if err := atomicfile.Write(path, blob, 0o600); err != nil {
		return 0, ErrIO
	}

	return len(data), nil
}

// currentPlaintext loads and decrypts path's current contents, treating an
// absent or sub-minimum file as an empty plaintext (the "blank" state a
// backing file sits in before its first write).
func currentPlaintext(key envelope.Key, path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []byte{}, nil
		}
		return nil, ErrIO
	}

	if len(raw) < envelope.MinBlobSize {
		return []byte{}, nil
	}

	plaintext, err := envelope.Decrypt(key, raw)
	if err != nil {
		return nil, ErrIO
	}
	return plaintext, nil
}

// Create makes an empty backing file (not yet a valid envelope - it only
// becomes one on the first WriteAt) and registers it.
func (c *Core) Create(parentIno fuseops.InodeID, name string) (fuseops.InodeID, Attr, error) {
	parentPath, ok := c.reg.PathFor(parentIno)
	if !ok {
		return 0, Attr{}, ErrNotFound
	}

	childPath := filepath.Join(parentPath, name)
	f, err := os.OpenFile(childPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, Attr{}, ErrIO
	}
	_ = f.Close()

	attr, err := statAttr(childPath)
	if err != nil {
		return 0, Attr{}, ErrIO
	}
	return c.reg.Register(childPath), attr, nil
}

// Mkdir creates a backing directory and registers it.
func (c *Core) Mkdir(parentIno fuseops.InodeID, name string) (fuseops.InodeID, Attr, error) {
	parentPath, ok := c.reg.PathFor(parentIno)
	if !ok {
		return 0, Attr{}, ErrNotFound
	}

	childPath := filepath.Join(parentPath, name)
	if err := os.Mkdir(childPath, 0o700); err != nil {
		return 0, Attr{}, ErrIO
	}

	attr, err := statAttr(childPath)
	if err != nil {
		return 0, Attr{}, ErrIO
	}
	return c.reg.Register(childPath), attr, nil
}

// Unlink removes a backing file. The registry entry for the removed path
// is left in place (stale); subsequent operations on it fail with
// ErrNotFound because the backing stat fails.
func (c *Core) Unlink(parentIno fuseops.InodeID, name string) error {
	parentPath, ok := c.reg.PathFor(parentIno)
	if !ok {
		return ErrNotFound
	}
	if err := os.Remove(filepath.Join(parentPath, name)); err != nil {
		return ErrIO
	}
	return nil
}

// Rmdir removes a backing directory, leaving its registry entry stale.
func (c *Core) Rmdir(parentIno fuseops.InodeID, name string) error {
	parentPath, ok := c.reg.PathFor(parentIno)
	if !ok {
		return ErrNotFound
	}
	if err := os.Remove(filepath.Join(parentPath, name)); err != nil {
		return ErrIO
	}
	return nil
}

// statAttr stats path and translates the result to Attr, reporting the
// plaintext length (backing length minus envelope overhead) for regular
// files rather than the raw backing length, so that `ls -l` and friends
// show the size callers actually read. A backing file shorter than the
// envelope minimum - blank, not yet written to - reports size zero.
func statAttr(path string) (Attr, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Attr{}, ErrNotFound
	}

	if info.IsDir() {
		return Attr{
			Size:  uint64(info.Size()),
			IsDir: true,
			Mode:  info.Mode(),
			Mtime: info.ModTime(),
			Nlink: 1,
		}, nil
	}

	size := uint64(0)
	if backing := info.Size(); backing >= envelopeOverhead {
		size = uint64(backing) - uint64(envelopeOverhead)
	}

	return Attr{
		Size:  size,
		IsDir: false,
		Mode:  info.Mode(),
		Mtime: info.ModTime(),
		Nlink: 1,
	}, nil
}
