package cipherfs

import (
	"errors"
	"syscall"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/sirupsen/logrus"

	"github.com/ciphermount/ciphermount/internal/envelope"
)

// attrTTL bounds how long the kernel may cache attributes and directory
// entries it receives from us. CipherMount's backing files can change size
// out from under a given mount (another process rewriting an envelope), so
// unlike a read-only or exclusively-owned filesystem we keep this short
// rather than caching indefinitely.
const attrTTL = time.Second

// FileSystem is the fuseutil.FileSystem adapter: it holds no logic of its
// own beyond translating fuseops request/response structs to and from the
// Core's plain Go calls, and mapping Core's sentinel errors to errnos.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	core *Core
	log  *logrus.Logger
}

// New builds a FileSystem rooted at sourceDir, encrypting and decrypting
// backing files with key.
func New(sourceDir string, key envelope.Key, log *logrus.Logger) *FileSystem {
	return &FileSystem{
		core: NewCore(sourceDir, key),
		log:  log,
	}
}

func (fs *FileSystem) Init(op *fuseops.InitOp) {
	op.Respond(nil)
}

func (fs *FileSystem) LookUpInode(op *fuseops.LookUpInodeOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	ino, attr, err := fs.core.Lookup(op.Parent, op.Name)
	if err != nil {
		err = fs.errno(err, "LookUpInode", op.Name)
		return
	}

	op.Entry.Child = ino
	op.Entry.Attributes = toInodeAttributes(attr)
	op.Entry.AttributesExpiration = time.Now().Add(attrTTL)
	op.Entry.EntryExpiration = time.Now().Add(attrTTL)
}

func (fs *FileSystem) GetInodeAttributes(op *fuseops.GetInodeAttributesOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	attr, err := fs.core.GetAttr(op.Inode)
	if err != nil {
		err = fs.errno(err, "GetInodeAttributes", "")
		return
	}

	op.Attributes = toInodeAttributes(attr)
	op.AttributesExpiration = time.Now().Add(attrTTL)
}

// SetInodeAttributes reports current attributes without applying the
// requested change. CipherMount derives every attribute from the backing
// envelope's length and mtime; there is nothing independent to mutate, so
// chmod/truncate-style requests are acknowledged but have no effect beyond
// what a subsequent write would already produce.
func (fs *FileSystem) SetInodeAttributes(op *fuseops.SetInodeAttributesOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	attr, err := fs.core.GetAttr(op.Inode)
	if err != nil {
		err = fs.errno(err, "SetInodeAttributes", "")
		return
	}

	op.Attributes = toInodeAttributes(attr)
	op.AttributesExpiration = time.Now().Add(attrTTL)
}

func (fs *FileSystem) ForgetInode(op *fuseops.ForgetInodeOp) {
	op.Respond(nil)
}

func (fs *FileSystem) MkDir(op *fuseops.MkDirOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	ino, attr, err := fs.core.Mkdir(op.Parent, op.Name)
	if err != nil {
		err = fs.errno(err, "MkDir", op.Name)
		return
	}

	op.Entry.Child = ino
	op.Entry.Attributes = toInodeAttributes(attr)
	op.Entry.AttributesExpiration = time.Now().Add(attrTTL)
	op.Entry.EntryExpiration = time.Now().Add(attrTTL)
}

func (fs *FileSystem) CreateFile(op *fuseops.CreateFileOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	ino, attr, err := fs.core.Create(op.Parent, op.Name)
	if err != nil {
		err = fs.errno(err, "CreateFile", op.Name)
		return
	}

	op.Entry.Child = ino
	op.Entry.Attributes = toInodeAttributes(attr)
	op.Entry.AttributesExpiration = time.Now().Add(attrTTL)
	op.Entry.EntryExpiration = time.Now().Add(attrTTL)
}

func (fs *FileSystem) RmDir(op *fuseops.RmDirOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	if err = fs.core.Rmdir(op.Parent, op.Name); err != nil {
		err = fs.errno(err, "RmDir", op.Name)
	}
}

func (fs *FileSystem) Unlink(op *fuseops.UnlinkOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	if err = fs.core.Unlink(op.Parent, op.Name); err != nil {
		err = fs.errno(err, "Unlink", op.Name)
	}
}

func (fs *FileSystem) OpenDir(op *fuseops.OpenDirOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	if _, ok := fs.core.PathFor(op.Inode); !ok {
		err = syscall.ENOENT
		return
	}
	// Nothing interesting to put in the Handle field; op.Inode already
	// identifies the directory for every later ReadDir/ReleaseDirHandle call.
}

func (fs *FileSystem) ReadDir(op *fuseops.ReadDirOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	entries, err := fs.core.ReadDir(op.Inode)
	if err != nil {
		err = fs.errno(err, "ReadDir", "")
		return
	}

	if int(op.Offset) > len(entries) {
		err = syscall.EINVAL
		return
	}

	for i, e := range entries[op.Offset:] {
		dt := fuseutil.DT_File
		if e.IsDir {
			dt = fuseutil.DT_Directory
		}

		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], fuseutil.Dirent{
			Offset: op.Offset + fuseops.DirOffset(i) + 1,
			Inode:  e.Inode,
			Name:   e.Name,
			Type:   dt,
		})
		if n == 0 {
			break
		}
		op.BytesRead += n
	}
}

func (fs *FileSystem) ReleaseDirHandle(op *fuseops.ReleaseDirHandleOp) {
	op.Respond(nil)
}

func (fs *FileSystem) OpenFile(op *fuseops.OpenFileOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	if _, ok := fs.core.PathFor(op.Inode); !ok {
		err = syscall.ENOENT
		return
	}
	// Nothing interesting to put in the Handle field either; op.Inode
	// already identifies the file for every later Read/Write/Flush/Release.
	op.KeepPageCache = false
}

func (fs *FileSystem) ReadFile(op *fuseops.ReadFileOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	data, err := fs.core.ReadAt(op.Inode, op.Offset, len(op.Dst))
	if err != nil {
		err = fs.errno(err, "ReadFile", "")
		return
	}

	op.BytesRead = copy(op.Dst, data)
}

func (fs *FileSystem) WriteFile(op *fuseops.WriteFileOp) {
	var err error
	defer fuseutil.RespondToOp(op, &err)

	_, err = fs.core.WriteAt(op.Inode, op.Offset, op.Data)
	if err != nil {
		err = fs.errno(err, "WriteFile", "")
	}
}

func (fs *FileSystem) SyncFile(op *fuseops.SyncFileOp) {
	op.Respond(nil)
}

func (fs *FileSystem) FlushFile(op *fuseops.FlushFileOp) {
	op.Respond(nil)
}

func (fs *FileSystem) ReleaseFileHandle(op *fuseops.ReleaseFileHandleOp) {
	op.Respond(nil)
}

// errno maps a Core sentinel error to the errno the kernel expects, logging
// the underlying detail first since EIO at the FUSE boundary collapses it.
func (fs *FileSystem) errno(err error, op, name string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, ErrIO):
		fs.log.WithFields(logrus.Fields{
			"op":   op,
			"name": name,
		}).WithError(err).Error("backing i/o or decrypt failure")
		return syscall.EIO
	default:
		fs.log.WithFields(logrus.Fields{
			"op":   op,
			"name": name,
		}).WithError(err).Error("unexpected error")
		return syscall.EIO
	}
}

var _ fuseutil.FileSystem = (*FileSystem)(nil)
