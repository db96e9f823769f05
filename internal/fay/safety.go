package fay

import (
	"path/filepath"
	"strings"
)

// withinRoot resolves rel against root and verifies the result stays inside
// it. Every component that mutates the target root (builder, installer,
// package database) must pass paths through here before touching them.
// The check is lexical so it also covers paths that do not exist yet.
// A relative path whose cleaned form climbs out of the root is rejected,
// never re-anchored.
func withinRoot(root, rel string) (string, error) {
	cleanRoot := filepath.Clean(root)
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", &ContainmentError{Root: cleanRoot, Path: rel}
	}
	abs := filepath.Join(cleanRoot, filepath.Clean("/"+rel))
	if cleanRoot == "/" {
		return abs, nil
	}
	if abs != cleanRoot && !strings.HasPrefix(abs, cleanRoot+string(filepath.Separator)) {
		return "", &ContainmentError{Root: cleanRoot, Path: rel}
	}
	return abs, nil
}

// checkWithinRoot is withinRoot for already-absolute paths.
func checkWithinRoot(root, abs string) error {
	cleanRoot := filepath.Clean(root)
	clean := filepath.Clean(abs)
	if cleanRoot == "/" {
		return nil
	}
	if clean != cleanRoot && !strings.HasPrefix(clean, cleanRoot+string(filepath.Separator)) {
		return &ContainmentError{Root: cleanRoot, Path: abs}
	}
	return nil
}

// Directories that uninstall will never rmdir even when a package manifest
// recorded them, to avoid taking down shared system trees.
var protectedSystemDirs = map[string]struct{}{
	"/":          {},
	"/bin":       {},
	"/boot":      {},
	"/dev":       {},
	"/etc":       {},
	"/home":      {},
	"/lib":       {},
	"/lib64":     {},
	"/mnt":       {},
	"/opt":       {},
	"/proc":      {},
	"/root":      {},
	"/run":       {},
	"/sbin":      {},
	"/sys":       {},
	"/tmp":       {},
	"/usr":       {},
	"/usr/bin":   {},
	"/usr/lib":   {},
	"/usr/sbin":  {},
	"/usr/share": {},
	"/var":       {},
	"/var/db":    {},
	"/var/lib":   {},
	"/var/log":   {},
	"/var/tmp":   {},
}

func isProtectedDir(relToRoot string) bool {
	if !strings.HasPrefix(relToRoot, "/") {
		relToRoot = "/" + relToRoot
	}
	_, found := protectedSystemDirs[filepath.Clean(relToRoot)]
	return found
}
