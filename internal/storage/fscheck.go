package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNetworkFilesystem marks a database path whose filesystem cannot give
// SQLite reliable locks.
var ErrNetworkFilesystem = errors.New("sqlite database on a network filesystem")

// NetworkFilesystemError names the offending path and filesystem type.
type NetworkFilesystemError struct {
	Path   string
	FSType string
}

func (e *NetworkFilesystemError) Error() string {
	return fmt.Sprintf("database %q is on network filesystem %q; sqlite needs a local disk for locking", e.Path, e.FSType)
}

func (e *NetworkFilesystemError) Unwrap() error { return ErrNetworkFilesystem }

// CheckLocal reports whether path (or, when it does not exist yet, its
// nearest existing parent) lives on a local filesystem. Unknown filesystem
// types count as local.
func CheckLocal(path string) error {
	return checkLocalWith(path, detectFilesystemType)
}

func checkLocalWith(path string, detect func(string) (string, error)) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("sqlite path is empty")
	}

	existing, err := nearestExistingPath(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}
	fsType, err := detect(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if isNetworkFilesystem(fsType) {
		return &NetworkFilesystemError{Path: path, FSType: fsType}
	}
	return nil
}

func nearestExistingPath(path string) (string, error) {
	candidate, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	for {
		_, err := os.Stat(candidate)
		switch {
		case err == nil:
			return candidate, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		parent := filepath.Dir(candidate)
		if parent == candidate {
			return "", fmt.Errorf("no existing parent for %q", path)
		}
		candidate = parent
	}
}

func isNetworkFilesystem(fsType string) bool {
	switch strings.ToLower(strings.TrimSpace(fsType)) {
	case "nfs", "cifs", "smbfs", "smb2", "afpfs", "webdav":
		return true
	}
	return false
}
