package fay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
)

// Default recipes per build system. ${PKG} is the DESTDIR staging tree the
// install step must populate; the artifact is archived from it afterwards.
var defaultRecipes = map[BuildSystem][]string{
	BuildAutotools: {
		"./configure --prefix=/usr",
		"make -j${NPROC}",
		"make DESTDIR=${PKG} install",
	},
	BuildMeson: {
		"meson setup build --prefix=/usr",
		"ninja -C build -j${NPROC}",
		"DESTDIR=${PKG} ninja -C build install",
	},
	BuildCMake: {
		"cmake -S . -B build -DCMAKE_INSTALL_PREFIX=/usr",
		"cmake --build build -j${NPROC}",
		"DESTDIR=${PKG} cmake --install build",
	},
	BuildMake: {
		"make -j${NPROC}",
		"make DESTDIR=${PKG} install",
	},
}

// Builder turns a manifest into a cached build artifact.
type Builder struct {
	Cache *ArtifactCache
	Exec  *Executor
}

func NewBuilder(cache *ArtifactCache, execCtx *Executor) *Builder {
	return &Builder{Cache: cache, Exec: execCtx}
}

// Build fetches and unpacks the package source into a fresh working
// directory, runs the build recipe and archives the resulting install tree.
// The first failing step aborts the build; partially built trees are left
// behind for inspection and wiped by the next run of the same package.
func (b *Builder) Build(ctx context.Context, m *Manifest) (string, error) {
	workDir := buildWorkDir(m)
	srcDir := filepath.Join(workDir, "src")
	destDir := filepath.Join(workDir, "pkg")

	// Never reuse a stale working directory.
	if err := os.RemoveAll(workDir); err != nil {
		return "", fmt.Errorf("failed to clean work dir %s: %w", workDir, err)
	}
	for _, dir := range []string{srcDir, destDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create dir %s: %w", dir, err)
		}
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Building %s %s (stage %d, %s)\n", m.Name, m.Version, m.Stage, m.Env())

	if err := b.prepareSource(ctx, m, srcDir); err != nil {
		return "", err
	}

	commands := m.BuildCommands
	if len(commands) == 0 {
		commands = defaultRecipes[m.BuildSystem]
	}
	if len(commands) == 0 {
		return "", fmt.Errorf("package %s has no build recipe", m.Name)
	}

	vars := b.templateVars(m, destDir)
	for _, raw := range commands {
		command, err := expandCommand(raw, vars)
		if err != nil {
			return "", fmt.Errorf("package %s: %w", m.Name, err)
		}
		debugf("+ %s\n", command)
		cmd, err := buildCommand(ctx, m, command, srcDir)
		if err != nil {
			return "", err
		}
		if err := b.executor(m).Run(cmd); err != nil {
			return "", &BuildError{
				Package:  m.Name,
				Command:  command,
				ExitCode: exitCodeOf(err),
				Err:      err,
			}
		}
	}

	artifact, err := b.Cache.Put(m.Name, m.Version, destDir)
	if err != nil {
		return "", err
	}
	if err := os.RemoveAll(workDir); err != nil {
		debugf("Warning: failed to remove work dir %s: %v\n", workDir, err)
	}
	return artifact, nil
}

// prepareSource materializes the package source tree inside srcDir.
func (b *Builder) prepareSource(ctx context.Context, m *Manifest, srcDir string) error {
	fetched, err := fetchSource(ctx, m, filepath.Dir(srcDir), b.Exec)
	if err != nil {
		return fmt.Errorf("failed to fetch sources for %s: %w", m.Name, err)
	}
	if m.UseGit() {
		// The clone already is the source tree; move it into place.
		if err := os.RemoveAll(srcDir); err != nil {
			return err
		}
		return os.Rename(fetched, srcDir)
	}
	if err := verifySource(m, fetched); err != nil {
		return err
	}
	if err := extractSource(fetched, srcDir); err != nil {
		return fmt.Errorf("failed to unpack sources for %s: %w", m.Name, err)
	}
	return nil
}

// templateVars is the fixed substitution map for build command templates.
// For chroot packages the DESTDIR is rewritten to its in-chroot path.
func (b *Builder) templateVars(m *Manifest, destDir string) map[string]string {
	pkg := destDir
	if m.Env() == EnvChroot {
		if rel, err := filepath.Rel(rootDir, destDir); err == nil {
			pkg = "/" + rel
		}
	}
	return map[string]string{
		"NPROC":    strconv.Itoa(runtime.NumCPU()),
		"version":  m.Version,
		"PKG":      pkg,
		"DESTDIR":  pkg,
		"TARGET":   crossTarget,
		"SYSROOT":  sysrootDir,
		"CROSSBIN": crossBin,
		"SOURCES":  sourcesDir,
	}
}

// executor returns the command runner for m: chrooted steps need root.
func (b *Builder) executor(m *Manifest) *Executor {
	if m.Env() == EnvChroot && !b.Exec.ShouldRunAsRoot {
		return &Executor{
			Context:         b.Exec.Context,
			ShouldRunAsRoot: true,
			Stdout:          b.Exec.Stdout,
			Stderr:          b.Exec.Stderr,
		}
	}
	return b.Exec
}

func exitCodeOf(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
