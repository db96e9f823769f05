package fay

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
	"golang.org/x/sys/unix"
)

// decompressReader wraps f in the decompressor matching the archive name.
// The returned closer is non-nil when the decompressor holds resources.
func decompressReader(name string, f *os.File) (io.Reader, func(), error) {
	switch {
	case strings.HasSuffix(name, ".tar.gz") || strings.HasSuffix(name, ".tgz"):
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gzip reader for %s: %w", name, err)
		}
		return gz, func() { gz.Close() }, nil
	case strings.HasSuffix(name, ".tar.bz2"):
		return bzip2.NewReader(f), nil, nil
	case strings.HasSuffix(name, ".tar.xz"):
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create xz reader for %s: %w", name, err)
		}
		return xr, nil, nil
	case strings.HasSuffix(name, ".tar.zst"):
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create zstd reader for %s: %w", name, err)
		}
		return zr, func() { zr.Close() }, nil
	case strings.HasSuffix(name, ".tar"):
		return f, nil, nil
	}
	return nil, nil, fmt.Errorf("unsupported archive format: %s", name)
}

// extractSource unpacks a source tarball into dest, stripping the single
// top-level directory upstream tarballs conventionally carry. PAX headers
// are skipped; timestamps are preserved, ownership only when running as root.
func extractSource(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", archive, err)
	}
	defer f.Close()

	r, closer, err := decompressReader(archive, f)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer()
	}

	tr := tar.NewReader(r)
	var prefix string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar header in %s: %w", archive, err)
		}

		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			if _, err := io.Copy(io.Discard, tr); err != nil {
				return fmt.Errorf("error skipping extended header data in %s: %w", archive, err)
			}
			continue
		}

		// Detect the top-level directory from the first content entry.
		if prefix == "" && (hdr.Typeflag == tar.TypeDir || hdr.Typeflag == tar.TypeReg) {
			if idx := strings.Index(hdr.Name, "/"); idx != -1 {
				prefix = hdr.Name[:idx+1]
				debugf("Detected tar prefix for stripping: %s\n", prefix)
			}
		}

		name := strings.TrimPrefix(hdr.Name, prefix)
		if name == "" {
			continue
		}
		target := filepath.Join(dest, name)
		if err := checkWithinRoot(dest, target); err != nil {
			return err
		}
		if err := writeTarEntry(tr, hdr, target); err != nil {
			return err
		}
	}
	return nil
}

// tarEntries lists the paths inside a package archive, directories marked
// with a trailing slash. Used for conflict checks before anything is
// extracted onto the root.
func tarEntries(archive string) ([]string, error) {
	f, err := os.Open(archive)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, archive)
		}
		return nil, err
	}
	defer f.Close()

	r, closer, err := decompressReader(archive, f)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		defer closer()
	}

	var entries []string
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tar read: %w", err)
		}
		name := normalizeEntryName(hdr.Name)
		if name == "" {
			continue
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			entries = append(entries, name+"/")
		case tar.TypeReg, tar.TypeSymlink, tar.TypeLink:
			entries = append(entries, name)
		}
	}
	return entries, nil
}

// extractPackage unpacks a package archive onto root and returns the
// extracted paths, relative to root, in encounter order. Directories carry
// a trailing slash. Permissions, ownership and timestamps are preserved
// where possible; every path is containment-checked before it is written.
func extractPackage(archive, root string) ([]string, error) {
	f, err := os.Open(archive)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, archive)
		}
		return nil, err
	}
	defer f.Close()

	r, closer, err := decompressReader(archive, f)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		defer closer()
	}

	var paths []string
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tar read: %w", err)
		}
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			continue
		}
		name := normalizeEntryName(hdr.Name)
		if name == "" {
			continue
		}
		target, err := withinRoot(root, name)
		if err != nil {
			return nil, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := writeTarEntry(tr, hdr, target); err != nil {
				return nil, err
			}
			paths = append(paths, name+"/")
		case tar.TypeReg, tar.TypeSymlink:
			if err := writeTarEntry(tr, hdr, target); err != nil {
				return nil, err
			}
			paths = append(paths, name)
		case tar.TypeLink:
			linkTarget, err := withinRoot(root, normalizeEntryName(hdr.Linkname))
			if err != nil {
				return nil, err
			}
			_ = os.Remove(target)
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return nil, err
			}
			if err := os.Link(linkTarget, target); err != nil {
				return nil, fmt.Errorf("failed to create hardlink %s: %w", target, err)
			}
			paths = append(paths, name)
		default:
			debugf("Skipping unsupported tar entry type %c: %s\n", hdr.Typeflag, hdr.Name)
		}
	}
	return paths, nil
}

func normalizeEntryName(name string) string {
	name = strings.TrimPrefix(name, "./")
	name = strings.Trim(name, "/")
	if name == "." || name == "" {
		return ""
	}
	return name
}

// writeTarEntry materializes one tar entry at target.
func writeTarEntry(tr *tar.Reader, hdr *tar.Header, target string) error {
	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
			return fmt.Errorf("failed to create dir %s: %w", target, err)
		}
		_ = os.Chtimes(target, hdr.AccessTime, hdr.ModTime)
		if os.Geteuid() == 0 {
			_ = os.Chown(target, hdr.Uid, hdr.Gid)
		}
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create parent dir for %s: %w", target, err)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
		if err != nil {
			return fmt.Errorf("failed to create file %s: %w", target, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("failed to write file %s: %w", target, err)
		}
		out.Close()
		_ = os.Chtimes(target, hdr.AccessTime, hdr.ModTime)
		if os.Geteuid() == 0 {
			_ = os.Chown(target, hdr.Uid, hdr.Gid)
		}
	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		_ = os.Remove(target)
		if err := os.Symlink(hdr.Linkname, target); err != nil && !os.IsExist(err) {
			return fmt.Errorf("failed to create symlink %s -> %s: %w", target, hdr.Linkname, err)
		}
		if os.Geteuid() == 0 {
			_ = unix.Lchown(target, hdr.Uid, hdr.Gid)
		}
		atime := unix.Timeval{Sec: hdr.AccessTime.Unix(), Usec: int64(hdr.AccessTime.Nanosecond() / 1000)}
		mtime := unix.Timeval{Sec: hdr.ModTime.Unix(), Usec: int64(hdr.ModTime.Nanosecond() / 1000)}
		if err := unix.Lutimes(target, []unix.Timeval{atime, mtime}); err != nil {
			debugf("Warning: failed to set times for symlink %s: %v (continuing)\n", target, err)
		}
	}
	return nil
}

// createTarZst archives treeRoot into a zstd-compressed tarball at outPath.
// Entries are forced to numeric root ownership so installed trees are
// portable regardless of who ran the build.
func createTarZst(treeRoot, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create tarball file: %w", err)
	}
	defer out.Close()

	zw, err := zstd.NewWriter(out)
	if err != nil {
		return fmt.Errorf("failed to create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	return filepath.Walk(treeRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(treeRoot, path)
		if err != nil {
			return err
		}

		var linkTarget string
		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(path)
			if err != nil {
				return fmt.Errorf("readlink %s: %w", path, err)
			}
		}

		hdr, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return err
		}
		if rel == "." {
			hdr.Name = "./"
			hdr.Mode = 0o755
		} else {
			hdr.Name = rel
			if info.IsDir() {
				hdr.Name += "/"
			}
		}

		// Packages must be portably root-owned.
		hdr.Uid, hdr.Gid = 0, 0
		hdr.Uname, hdr.Gname = "root", "root"

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if rel == "." || !info.Mode().IsRegular() {
			return nil
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
}
