// Package fileops performs coordinator-delegated filesystem and git
// operations, constrained to the node's configured storage roots.
package fileops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidatePath resolves target against base and rejects anything that escapes
// base. Relative targets are joined onto base; absolute targets must already
// live under it. The comparison is separator-aware so /data/projectsEvil does
// not pass for /data/projects. Every delegated operation goes through this
// check before touching the filesystem.
func ValidatePath(basePath, targetPath string) (string, error) {
	absBase, err := filepath.Abs(filepath.Clean(basePath))
	if err != nil {
		return "", fmt.Errorf("invalid base path: %w", err)
	}

	var fullPath string
	if filepath.IsAbs(targetPath) {
		fullPath = targetPath
	} else {
		fullPath = filepath.Join(absBase, targetPath)
	}

	absTarget, err := filepath.Abs(filepath.Clean(fullPath))
	if err != nil {
		return "", fmt.Errorf("invalid target path: %w", err)
	}

	if absTarget != absBase && !strings.HasPrefix(absTarget, absBase+string(os.PathSeparator)) {
		return "", fmt.Errorf("path traversal detected: %s is outside %s", absTarget, absBase)
	}

	return absTarget, nil
}

// EnsureDir creates a directory and all parents.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// PathExists reports whether a path exists.
func PathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// RemoveAll removes a path and all its contents. Removing an absent path
// succeeds; delete is idempotent.
func RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// PathInfo describes a file or directory for status queries on
// non-repository paths.
type PathInfo struct {
	Path    string `json:"path"`
	IsDir   bool   `json:"is_dir"`
	Size    int64  `json:"size"`
	ModTime int64  `json:"mod_time"`
	Mode    string `json:"mode"`
}

// GetInfo returns basic information about a path.
func GetInfo(path string) (*PathInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	return &PathInfo{
		Path:    path,
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		ModTime: info.ModTime().Unix(),
		Mode:    info.Mode().String(),
	}, nil
}
