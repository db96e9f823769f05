package fay

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Minimal PATH used inside the target root. Chrooted builds must not see
// host tools.
const chrootPath = "/usr/bin:/usr/sbin:/bin:/sbin:/tools/bin"

// hostEnv assembles the environment for a host (cross toolchain) build.
func hostEnv(m *Manifest) []string {
	cflags := "-O2 -pipe"
	if !m.SafeFlags {
		cflags = "-O2 -pipe -march=native -fomit-frame-pointer"
	}

	env := []string{
		"PATH=" + crossBin + string(os.PathListSeparator) + os.Getenv("PATH"),
		"CFLAGS=" + cflags,
		"CXXFLAGS=" + cflags,
		"FAY_TARGET=" + crossTarget,
		"FAY_SYSROOT=" + sysrootDir,
	}
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		switch key {
		case "PATH", "CFLAGS", "CXXFLAGS":
			continue
		}
		env = append(env, kv)
	}
	return env
}

// buildCommand wraps one expanded shell command for the package's execution
// environment. Chroot packages run inside the target root with a minimal
// PATH; everything else runs on the host with the cross toolchain first in
// PATH. The split is decided by Manifest.Env.
func buildCommand(ctx context.Context, m *Manifest, shellCmd, srcDir string) (*exec.Cmd, error) {
	switch m.Env() {
	case EnvChroot:
		rel, err := filepath.Rel(rootDir, srcDir)
		if err != nil || strings.HasPrefix(rel, "..") {
			return nil, &ContainmentError{Root: rootDir, Path: srcDir}
		}
		script := fmt.Sprintf("cd /%s && %s", rel, shellCmd)
		cmd := exec.CommandContext(ctx, "chroot", rootDir, "/bin/sh", "-c", script)
		cmd.Env = []string{"PATH=" + chrootPath, "HOME=/root", "TERM=" + os.Getenv("TERM")}
		return cmd, nil
	default:
		cmd := exec.CommandContext(ctx, "/bin/sh", "-c", shellCmd)
		cmd.Dir = srcDir
		cmd.Env = hostEnv(m)
		return cmd, nil
	}
}

// buildWorkDir reports where a package's scratch tree lives. Chroot builds
// must stage under the target root so the paths exist inside the chroot.
func buildWorkDir(m *Manifest) string {
	if m.Env() == EnvChroot {
		return filepath.Join(rootDir, "var", "tmp", "fay", m.Name)
	}
	return filepath.Join(tmpDir, m.Name)
}
