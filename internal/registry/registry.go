// Package registry implements the stable, bidirectional mapping between
// opaque FUSE inode numbers and backing paths. Entries are allocated on
// demand and never reassigned or garbage-collected for the lifetime of
// the mount.
package registry

import (
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/syncutil"
)

// firstAllocatedInode is the first inode number handed out by Register;
// fuseops.RootInodeID (1) is reserved for the backing root and is seeded
// by New.
const firstAllocatedInode = fuseops.RootInodeID + 1

// Registry is a concurrency-safe inode <-> path table. The zero value is
// not usable; construct one with New.
type Registry struct {
	mu syncutil.InvariantMutex

	byInode map[fuseops.InodeID]string // GUARDED_BY(mu)
	byPath  map[string]fuseops.InodeID // GUARDED_BY(mu)
	next    fuseops.InodeID            // GUARDED_BY(mu)
}

// New creates a registry containing only the root entry, bound to
// rootPath.
func New(rootPath string) *Registry {
	r := &Registry{
		byInode: map[fuseops.InodeID]string{fuseops.RootInodeID: rootPath},
		byPath:  map[string]fuseops.InodeID{rootPath: fuseops.RootInodeID},
		next:    firstAllocatedInode,
	}
	r.mu = syncutil.NewInvariantMutex(r.checkInvariants)
	return r
}

// checkInvariants asserts the bidirectional-map invariant: every inode maps
// to a path that maps back to the same inode, and vice versa. It panics on
// violation rather than serving inconsistent results.
func (r *Registry) checkInvariants() {
	if len(r.byInode) != len(r.byPath) {
		panic("registry: byInode/byPath size mismatch")
	}
	for ino, path := range r.byInode {
		if got, ok := r.byPath[path]; !ok || got != ino {
			panic("registry: byInode/byPath out of sync")
		}
	}
	if root, ok := r.byInode[fuseops.RootInodeID]; !ok || root == "" {
		panic("registry: missing root entry")
	}
}

// PathFor returns the path registered for ino, or ("", false) if ino is
// unknown.
func (r *Registry) PathFor(ino fuseops.InodeID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path, ok := r.byInode[ino]
	return path, ok
}

// Register returns the inode previously assigned to path, allocating a
// fresh one from the monotonic counter if path has not been seen before.
// Register is idempotent: repeated calls with the same path return the
// same inode.
func (r *Registry) Register(path string) fuseops.InodeID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ino, ok := r.byPath[path]; ok {
		return ino
	}

	ino := r.next
	r.next++

	r.byInode[ino] = path
	r.byPath[path] = ino
	return ino
}
