// Package config canonicalizes and validates filesystem paths the manager
// hands the shim across the wire (bundle paths, stdio FIFO paths), so a
// symlink planted inside a bundle can't redirect the shim into reading or
// writing somewhere else on the host.
package config

import (
	"os"
	"path/filepath"
)

// canonicalizePath resolves path to an absolute, symlink-free form.
// Components that don't exist yet (the common case for a stdio FIFO path
// the shim itself is about to create) are left as-is past the last
// existing ancestor, rather than erroring.
func canonicalizePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	parent, base := filepath.Split(abs)
	parentResolved, err := canonicalizePath(filepath.Clean(parent))
	if err != nil {
		return "", err
	}
	return filepath.Join(parentResolved, base), nil
}

// CanonicalizeBundlePath resolves a manager-supplied bundle path to its
// real, symlink-free absolute form before the shim ever reads config.json
// out of it.
func CanonicalizeBundlePath(path string) (string, error) {
	return canonicalizePath(path)
}

