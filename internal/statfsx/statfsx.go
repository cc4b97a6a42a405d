// Package statfsx reports capacity statistics for the backing filesystem
// underneath a CipherMount source directory, so startup can log real disk
// usage rather than mounting blind.
package statfsx

import "golang.org/x/sys/unix"

// Stats mirrors the subset of statfs(2) fields worth surfacing to an
// operator: block and inode capacity and availability.
type Stats struct {
	BlockSize       uint32
	Blocks          uint64
	BlocksFree      uint64
	BlocksAvailable uint64
	Inodes          uint64
	InodesFree      uint64
}

// Stat calls statfs(2) on path (typically the backing source directory)
// and converts the result to Stats.
func Stat(path string) (Stats, error) {
	var raw unix.Statfs_t
	if err := unix.Statfs(path, &raw); err != nil {
		return Stats{}, err
	}

	return Stats{
		BlockSize:       uint32(raw.Bsize),
		Blocks:          raw.Blocks,
		BlocksFree:      raw.Bfree,
		BlocksAvailable: raw.Bavail,
		Inodes:          raw.Files,
		InodesFree:      raw.Ffree,
	}, nil
}
