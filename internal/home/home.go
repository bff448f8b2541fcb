// Package home manages the scanstage home directory layout.
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultDirName is the default name for the scanstage home directory.
	DefaultDirName = ".scanstage"

	// BundlesDirName is the subdirectory holding uploaded bundles and
	// their rendered page images.
	BundlesDirName = "bundles"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"

	// DatabaseFileName is the sqlite database file name.
	DatabaseFileName = "scanstage.db"
)

// Dir represents the scanstage home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.scanstage).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// BundlesPath returns the path to the bundles directory.
func (d *Dir) BundlesPath() string {
	return filepath.Join(d.path, BundlesDirName)
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// DatabasePath returns the path to the sqlite database file.
func (d *Dir) DatabasePath() string {
	return filepath.Join(d.path, DatabaseFileName)
}

// BundleDir returns the directory for one bundle's files.
func (d *Dir) BundleDir(bundleID string) string {
	return filepath.Join(d.BundlesPath(), bundleID)
}

// BundlePDF returns the path of a bundle's original uploaded document.
func (d *Dir) BundlePDF(bundleID string) string {
	return filepath.Join(d.BundleDir(bundleID), "bundle.pdf")
}

// PageImage returns the path of one rendered page image (1-indexed).
func (d *Dir) PageImage(bundleID string, bundleOrder int) string {
	return filepath.Join(d.BundleDir(bundleID), "pages", fmt.Sprintf("page_%04d.png", bundleOrder))
}

// PageThumbnail returns the path of one page thumbnail (1-indexed).
func (d *Dir) PageThumbnail(bundleID string, bundleOrder int) string {
	return filepath.Join(d.BundleDir(bundleID), "thumbnails", fmt.Sprintf("thumb_%04d.png", bundleOrder))
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.BundlesPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create bundles directory: %w", err)
	}
	return nil
}

// EnsureBundleDirs creates the page and thumbnail directories for a bundle.
func (d *Dir) EnsureBundleDirs(bundleID string) error {
	for _, p := range []string{
		filepath.Join(d.BundleDir(bundleID), "pages"),
		filepath.Join(d.BundleDir(bundleID), "thumbnails"),
	} {
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("failed to create bundle directory: %w", err)
		}
	}
	return nil
}

// RemoveBundleDir deletes a bundle's directory tree.
func (d *Dir) RemoveBundleDir(bundleID string) error {
	return os.RemoveAll(d.BundleDir(bundleID))
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}
