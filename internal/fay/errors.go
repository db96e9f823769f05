package fay

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the build/install pipeline. Callers match with
// errors.Is/errors.As; everything else is wrapped context.
var (
	ErrUnknownPackage  = errors.New("unknown package")
	ErrNotInstalled    = errors.New("package not installed")
	ErrDependencyUnmet = errors.New("dependency not met")
	ErrArchiveNotFound = errors.New("archive not found")
	ErrArtifactMissing = errors.New("artifact missing")
	ErrFileConflict    = errors.New("file conflict")
)

// BuildError reports the first failing step of a package build. The build
// aborts on the first non-zero exit; partially built trees may remain.
type BuildError struct {
	Package  string
	Command  string
	ExitCode int
	Err      error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build of %s failed: %q exited with %d: %v", e.Package, e.Command, e.ExitCode, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }

// ContainmentError means a mutation was attempted outside the target root.
// It is never recoverable: any caller that sees one must abort the process.
type ContainmentError struct {
	Root string
	Path string
}

func (e *ContainmentError) Error() string {
	return fmt.Sprintf("path %s escapes target root %s", e.Path, e.Root)
}
