/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package media

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideRoot is returned for a local path not under the media root.
var ErrOutsideRoot = errors.New("path is outside the media root")

// Cleaner removes downloaded files once they are no longer queued.
type Cleaner struct {
	root string
}

// NewCleaner creates a cleaner confined to root.
func NewCleaner(root string) *Cleaner {
	return &Cleaner{root: root}
}

// Remove deletes path if it lives under the media root. Missing files are not an error.
func (c *Cleaner) Remove(path string) error {
	if path == "" {
		return nil
	}

	abs, err := withinRoot(c.root, path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove file: %w", err)
	}
	return nil
}

// withinRoot returns the absolute form of path, or ErrOutsideRoot unless it
// names a file strictly below root.
func withinRoot(root, path string) (string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve media root: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	rel, err := filepath.Rel(absRoot, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return abs, nil
}

// CheckAccess verifies the media root exists and is a directory, creating it if missing.
func (c *Cleaner) CheckAccess() error {
	info, err := os.Stat(c.root)
	if os.IsNotExist(err) {
		return os.MkdirAll(c.root, 0o755)
	}
	if err != nil {
		return fmt.Errorf("cannot access media root: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("media root is not a directory: %s", c.root)
	}
	return nil
}
