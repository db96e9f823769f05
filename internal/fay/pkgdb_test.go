package fay

import (
	"archive/tar"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tarEntry struct {
	name     string // trailing slash marks a directory
	content  string
	link     string // symlink target when set
	hardlink string // hardlink target when set
}

// writeTestArchive creates a .tar.zst package archive at path.
func writeTestArchive(t *testing.T, path string, entries []tarEntry) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	require.NoError(t, err)
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	now := time.Now()
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Mode: 0o644, ModTime: now}
		switch {
		case strings.HasSuffix(e.name, "/"):
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		case e.link != "":
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.link
			hdr.Mode = 0o777
		case e.hardlink != "":
			hdr.Typeflag = tar.TypeLink
			hdr.Linkname = e.hardlink
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.content))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.content))
			require.NoError(t, err)
		}
	}
}

func TestParseArchiveName(t *testing.T) {
	tests := []struct {
		in      string
		name    string
		version string
	}{
		{"gcc-16.0.1.pkg.tar.xz", "gcc", "16.0.1"},
		{"toolkit.tar.gz", "toolkit", "unknown"},
		{"zlib-1.3.1.pkg.tar.zst", "zlib", "1.3.1"},
		{"util-linux-2.39.tar.bz2", "util-linux", "2.39"},
		{"/some/dir/ncurses-6.4.pkg.tar.zst", "ncurses", "6.4"},
		{"plain.tar", "plain.tar", "unknown"},
	}
	for _, tt := range tests {
		name, version := parseArchiveName(tt.in)
		assert.Equal(t, tt.name, name, tt.in)
		assert.Equal(t, tt.version, version, tt.in)
	}
}

func TestInstallRemoveRoundTrip(t *testing.T) {
	root := t.TempDir()
	db := OpenPackageDB(root)

	archive := filepath.Join(t.TempDir(), "demo-1.0.pkg.tar.zst")
	writeTestArchive(t, archive, []tarEntry{
		{name: "usr/"},
		{name: "usr/bin/"},
		{name: "usr/bin/demo", content: "#!/bin/sh\necho demo\n"},
		{name: "usr/bin/demo2", link: "demo"},
		{name: "usr/share/"},
		{name: "usr/share/demo.txt", content: "hello\n"},
	})

	pkg, err := db.Install(archive)
	require.NoError(t, err)
	assert.Equal(t, "demo", pkg.Name)
	assert.Equal(t, "1.0", pkg.Version)

	// Install/files round trip: exactly the archive's file set, in
	// encounter order.
	files, err := db.Files("demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"usr/bin/demo", "usr/bin/demo2", "usr/share/demo.txt"}, files)

	data, err := os.ReadFile(filepath.Join(root, "usr", "bin", "demo"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "echo demo")

	link, err := os.Readlink(filepath.Join(root, "usr", "bin", "demo2"))
	require.NoError(t, err)
	assert.Equal(t, "demo", link)

	name, version, err := db.Query("demo")
	require.NoError(t, err)
	assert.Equal(t, "demo", name)
	assert.Equal(t, "1.0", version)

	names, err := db.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"demo"}, names)

	owner, err := db.Owner("usr/bin/demo")
	require.NoError(t, err)
	assert.Equal(t, "demo", owner)

	// Remove deletes every recorded file and the record itself.
	require.NoError(t, db.Remove("demo"))
	for _, f := range files {
		_, err := os.Lstat(filepath.Join(root, f))
		assert.True(t, os.IsNotExist(err), "%s should be gone", f)
	}
	_, _, err = db.Query("demo")
	assert.ErrorIs(t, err, ErrNotInstalled)
	_, err = db.Files("demo")
	assert.ErrorIs(t, err, ErrNotInstalled)
}

func TestRemoveMissingFilesBestEffort(t *testing.T) {
	root := t.TempDir()
	db := OpenPackageDB(root)

	archive := filepath.Join(t.TempDir(), "gone-2.0.pkg.tar.zst")
	writeTestArchive(t, archive, []tarEntry{
		{name: "etc-like/"},
		{name: "etc-like/a.conf", content: "a"},
		{name: "etc-like/b.conf", content: "b"},
	})
	_, err := db.Install(archive)
	require.NoError(t, err)

	// Someone deleted a file behind our back; remove must not care.
	require.NoError(t, os.Remove(filepath.Join(root, "etc-like", "a.conf")))
	require.NoError(t, db.Remove("gone"))
	_, _, err = db.Query("gone")
	assert.ErrorIs(t, err, ErrNotInstalled)
}

func TestInstallFileConflict(t *testing.T) {
	root := t.TempDir()
	db := OpenPackageDB(root)
	tmp := t.TempDir()

	first := filepath.Join(tmp, "alpha-1.0.pkg.tar.zst")
	writeTestArchive(t, first, []tarEntry{
		{name: "usr/"},
		{name: "usr/lib/"},
		{name: "usr/lib/libshared.so", content: "alpha"},
	})
	_, err := db.Install(first)
	require.NoError(t, err)

	second := filepath.Join(tmp, "beta-2.0.pkg.tar.zst")
	writeTestArchive(t, second, []tarEntry{
		{name: "usr/"},
		{name: "usr/lib/"},
		{name: "usr/lib/libshared.so", content: "beta"},
	})
	_, err = db.Install(second)
	require.ErrorIs(t, err, ErrFileConflict)
	assert.Contains(t, err.Error(), "alpha")

	// The conflicting install must not have clobbered the file.
	data, err := os.ReadFile(filepath.Join(root, "usr", "lib", "libshared.so"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))

	// Reinstalling the owner itself is not a conflict.
	_, err = db.Install(first)
	assert.NoError(t, err)
}

func TestInstallMissingArchive(t *testing.T) {
	db := OpenPackageDB(t.TempDir())
	_, err := db.Install(filepath.Join(t.TempDir(), "absent-1.0.pkg.tar.zst"))
	assert.ErrorIs(t, err, ErrArchiveNotFound)
}

func TestRemoveRejectsEscapingRecordPaths(t *testing.T) {
	// A tampered files record must not be able to steer deletions outside
	// the target root.
	parent := t.TempDir()
	root := filepath.Join(parent, "nested", "root")
	db := OpenPackageDB(root)

	victim := filepath.Join(parent, "outside.txt")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(victim, []byte("precious"), 0o644))

	recordDir := filepath.Join(db.Dir, "evil")
	require.NoError(t, os.MkdirAll(recordDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(recordDir, "info"), []byte("evil 1.0\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(recordDir, "files"), []byte("../../outside.txt\n"), 0o644))

	err := db.Remove("evil")
	var ce *ContainmentError
	require.ErrorAs(t, err, &ce)
	_, err = os.Stat(victim)
	assert.NoError(t, err, "file outside the root must survive")
}

func TestRemoveNotInstalled(t *testing.T) {
	db := OpenPackageDB(t.TempDir())
	assert.ErrorIs(t, db.Remove("nonesuch"), ErrNotInstalled)
}

func TestSatisfied(t *testing.T) {
	root := t.TempDir()
	db := OpenPackageDB(root)

	m := &Manifest{Name: "tool", Provides: []string{"/usr/bin/tool"}}
	assert.False(t, db.Satisfied(m))

	// Satisfied is a filesystem check, independent of the database.
	require.NoError(t, os.MkdirAll(filepath.Join(root, "usr", "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "usr", "bin", "tool"), []byte("x"), 0o755))
	assert.True(t, db.Satisfied(m))

	// All provides paths must exist, not just some.
	m.Provides = append(m.Provides, "/usr/bin/other")
	assert.False(t, db.Satisfied(m))

	// No provides declared means never satisfied by the shortcut.
	assert.False(t, db.Satisfied(&Manifest{Name: "bare"}))
}
