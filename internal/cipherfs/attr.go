package cipherfs

import (
	"os"
	"time"

	"github.com/jacobsa/fuse/fuseops"
)

// toInodeAttributes converts the core's FUSE-agnostic Attr into the wire
// type the fuseops package expects. CipherMount does not persist per-entry
// permissions separately from the backing file's own mode bits, so a.Mode -
// taken straight from the backing file's os.FileInfo.Mode() - is reported
// as-is rather than a hardcoded default.
func toInodeAttributes(a Attr) fuseops.InodeAttributes {
	now := a.Mtime
	if now.IsZero() {
		now = time.Now()
	}

	return fuseops.InodeAttributes{
		Size:   a.Size,
		Nlink:  a.Nlink,
		Mode:   a.Mode,
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
		Crtime: now,
		Uid:    uint32(os.Getuid()),
		Gid:    uint32(os.Getgid()),
	}
}
