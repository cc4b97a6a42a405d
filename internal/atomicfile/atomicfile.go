// Package atomicfile writes a file's full contents by way of a sibling
// temporary file and a rename, so that a process crash mid write leaves
// either the old contents or the new contents in place, never a torn blob.
// Neither the temporary file nor the directory is fsynced, so what survives
// a power loss depends on the underlying filesystem.
package atomicfile

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Write replaces path's contents with data. path's parent directory must
// already exist. The temporary file is created alongside path (same
// directory, same filesystem) so the final rename is atomic.
func Write(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := tempName(dir, filepath.Base(path))
	if err != nil {
		return fmt.Errorf("atomicfile: choosing temp name: %w", err)
	}

	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("atomicfile: writing temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("atomicfile: renaming into place: %w", err)
	}

	return nil
}

func tempName(dir, base string) (string, error) {
	var suffix [8]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", base, hex.EncodeToString(suffix[:]))), nil
}
