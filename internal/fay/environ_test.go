package fay

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withGlobals(t *testing.T, root, tmp, cross, target string) {
	t.Helper()
	oldRoot, oldTmp, oldCross, oldTarget := rootDir, tmpDir, crossBin, crossTarget
	rootDir, tmpDir, crossBin, crossTarget = root, tmp, cross, target
	t.Cleanup(func() {
		rootDir, tmpDir, crossBin, crossTarget = oldRoot, oldTmp, oldCross, oldTarget
	})
}

func TestHostEnvFlags(t *testing.T) {
	withGlobals(t, "/mnt/target", "/tmp/fay", "/opt/cross/bin", "x86_64-fay-linux-gnu")

	env := hostEnv(&Manifest{Name: "gmp", SafeFlags: true})
	assert.Contains(t, env, "CFLAGS=-O2 -pipe")
	assert.Contains(t, env, "FAY_TARGET=x86_64-fay-linux-gnu")

	env = hostEnv(&Manifest{Name: "zlib"})
	assert.Contains(t, env, "CFLAGS=-O2 -pipe -march=native -fomit-frame-pointer")
	assert.Contains(t, env, "CXXFLAGS=-O2 -pipe -march=native -fomit-frame-pointer")

	// The cross toolchain comes first in PATH.
	var path string
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			path = kv
		}
	}
	assert.True(t, strings.HasPrefix(path, "PATH=/opt/cross/bin"+string(os.PathListSeparator)), path)
}

func TestBuildCommandHost(t *testing.T) {
	withGlobals(t, "/mnt/target", t.TempDir(), "/opt/cross/bin", "x86_64-fay-linux-gnu")

	src := t.TempDir()
	cmd, err := buildCommand(context.Background(), &Manifest{Name: "zlib", Stage: 1}, "make -j4", src)
	require.NoError(t, err)
	assert.Equal(t, src, cmd.Dir)
	assert.Equal(t, []string{"/bin/sh", "-c", "make -j4"}, cmd.Args)
}

func TestBuildCommandChroot(t *testing.T) {
	root := t.TempDir()
	withGlobals(t, root, "/tmp/fay", "", "")

	m := &Manifest{Name: "bash", Stage: 3}
	require.Equal(t, EnvChroot, m.Env())

	src := filepath.Join(root, "var", "tmp", "fay", "bash", "src")
	cmd, err := buildCommand(context.Background(), m, "make install", src)
	require.NoError(t, err)
	assert.Equal(t, []string{"chroot", root, "/bin/sh", "-c", "cd /var/tmp/fay/bash/src && make install"}, cmd.Args)
	assert.Contains(t, cmd.Env, "PATH="+chrootPath)

	// A source tree outside the target root cannot be entered from inside.
	_, err = buildCommand(context.Background(), m, "make", t.TempDir())
	var ce *ContainmentError
	assert.ErrorAs(t, err, &ce)
}

func TestBuildWorkDir(t *testing.T) {
	root := t.TempDir()
	tmp := t.TempDir()
	withGlobals(t, root, tmp, "", "")

	assert.Equal(t, filepath.Join(tmp, "zlib"), buildWorkDir(&Manifest{Name: "zlib", Stage: 1}))
	assert.Equal(t, filepath.Join(root, "var", "tmp", "fay", "glibc"), buildWorkDir(&Manifest{Name: "glibc", Stage: 3}))
	assert.Equal(t, filepath.Join(tmp, "glibc"), buildWorkDir(&Manifest{Name: "glibc", Stage: 3, Environment: EnvHost}))
}

func TestExecutorRun(t *testing.T) {
	e := NewExecutor(context.Background())
	var out strings.Builder
	e.Stdout = &out
	e.Stderr = &out

	cmd, err := buildCommand(context.Background(), &Manifest{Name: "probe", Stage: 1}, "echo built", t.TempDir())
	require.NoError(t, err)
	require.NoError(t, e.Run(cmd))
	assert.Contains(t, out.String(), "built")

	cmd, err = buildCommand(context.Background(), &Manifest{Name: "probe", Stage: 1}, "exit 3", t.TempDir())
	require.NoError(t, err)
	err = e.Run(cmd)
	require.Error(t, err)
	assert.Equal(t, 3, exitCodeOf(err))
}

func TestExecutorRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := NewExecutor(ctx)
	e.Stdout = &strings.Builder{}
	e.Stderr = &strings.Builder{}

	cmd, err := buildCommand(ctx, &Manifest{Name: "probe", Stage: 1}, "sleep 60", t.TempDir())
	require.NoError(t, err)
	assert.Error(t, e.Run(cmd))
}
