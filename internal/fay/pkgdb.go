package fay

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PackageDB records which files belong to which installed package. Layout
// under <root>/var/db/fay/installed: one directory per package holding an
// `info` record ("name version") and a `files` record (newline-separated
// paths relative to the root, directories with a trailing slash).
type PackageDB struct {
	Root string // target root the packages are installed into
	Dir  string // record directory
}

func OpenPackageDB(root string) *PackageDB {
	return &PackageDB{
		Root: filepath.Clean(root),
		Dir:  filepath.Join(root, "var", "db", "fay", "installed"),
	}
}

// InstalledPackage is one package's database record.
type InstalledPackage struct {
	Name    string
	Version string
	Files   []string // extraction encounter order
}

// parseArchiveName derives (name, version) from a package archive filename:
// basename, strip known archive suffixes, split at the first dash followed
// by a digit. Without such a dash the version is "unknown".
func parseArchiveName(path string) (string, string) {
	base := filepath.Base(path)
	for _, ext := range []string{".tar.xz", ".tar.gz", ".tar.bz2", ".tar.zst"} {
		if strings.HasSuffix(base, ext) {
			base = strings.TrimSuffix(base, ext)
			break
		}
	}
	base = strings.TrimSuffix(base, ".pkg")

	for i := 0; i < len(base)-1; i++ {
		if base[i] == '-' && base[i+1] >= '0' && base[i+1] <= '9' {
			return base[:i], base[i+1:]
		}
	}
	return base, "unknown"
}

// Install extracts a package archive onto the target root and persists the
// record. A path already owned by a different installed package aborts the
// install with ErrFileConflict before anything is written.
func (db *PackageDB) Install(archive string) (*InstalledPackage, error) {
	name, version := parseArchiveName(archive)

	entries, err := tarEntries(archive)
	if err != nil {
		return nil, err
	}

	// Conflict check against every other installed package's record.
	owners := db.ownerIndex(name)
	for _, entry := range entries {
		if strings.HasSuffix(entry, "/") {
			continue
		}
		if owner, taken := owners[entry]; taken {
			return nil, fmt.Errorf("%w: %s is owned by %s", ErrFileConflict, entry, owner)
		}
	}

	paths, err := extractPackage(archive, db.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to extract %s: %w", archive, err)
	}

	pkg := &InstalledPackage{Name: name, Version: version, Files: paths}
	if err := db.writeRecord(pkg); err != nil {
		return nil, err
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Installed %s %s (%d entries)\n", name, version, len(paths))
	return pkg, nil
}

// writeRecord persists a package record, overwriting any previous one.
// Upgrades do not diff against the old record; they simply replace it.
func (db *PackageDB) writeRecord(pkg *InstalledPackage) error {
	recordDir := filepath.Join(db.Dir, pkg.Name)
	if err := os.MkdirAll(recordDir, 0o755); err != nil {
		return fmt.Errorf("failed to create record dir: %w", err)
	}
	info := fmt.Sprintf("%s %s\n", pkg.Name, pkg.Version)
	if err := os.WriteFile(filepath.Join(recordDir, "info"), []byte(info), 0o644); err != nil {
		return fmt.Errorf("failed to write info record: %w", err)
	}
	files := strings.Join(pkg.Files, "\n")
	if files != "" {
		files += "\n"
	}
	if err := os.WriteFile(filepath.Join(recordDir, "files"), []byte(files), 0o644); err != nil {
		return fmt.Errorf("failed to write files record: %w", err)
	}
	return nil
}

// Remove deletes every recorded path of a package from the target root,
// then the record itself. Individual deletions are best-effort: a path that
// is already gone is not an error. Recorded directories are rmdir'd
// deepest-first, skipping shared system directories.
func (db *PackageDB) Remove(name string) error {
	pkg, err := db.record(name)
	if err != nil {
		return err
	}

	var dirs []string
	for _, rel := range pkg.Files {
		if strings.HasSuffix(rel, "/") {
			dirs = append(dirs, strings.TrimSuffix(rel, "/"))
			continue
		}
		abs, err := withinRoot(db.Root, rel)
		if err != nil {
			return err
		}
		if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
			colWarn.Printf("failed to remove %s: %v\n", abs, err)
		}
	}

	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, rel := range dirs {
		if isProtectedDir(rel) {
			debugf("Skipping removal of protected system directory: /%s\n", rel)
			continue
		}
		abs, err := withinRoot(db.Root, rel)
		if err != nil {
			return err
		}
		// Fails when non-empty, which is the desired behavior.
		_ = os.Remove(abs)
	}

	if err := os.RemoveAll(filepath.Join(db.Dir, name)); err != nil {
		return fmt.Errorf("failed to remove record for %s: %w", name, err)
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Removed %s %s\n", pkg.Name, pkg.Version)
	return nil
}

// Query returns the installed name and version of a package.
func (db *PackageDB) Query(name string) (string, string, error) {
	data, err := os.ReadFile(filepath.Join(db.Dir, name, "info"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", fmt.Errorf("%w: %s", ErrNotInstalled, name)
		}
		return "", "", err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return "", "", fmt.Errorf("corrupt info record for %s", name)
	}
	return fields[0], fields[1], nil
}

// Files returns the recorded non-directory paths of an installed package.
func (db *PackageDB) Files(name string) ([]string, error) {
	pkg, err := db.record(name)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, p := range pkg.Files {
		if !strings.HasSuffix(p, "/") {
			files = append(files, p)
		}
	}
	return files, nil
}

// List returns the names of all installed packages, sorted.
func (db *PackageDB) List() ([]string, error) {
	entries, err := os.ReadDir(db.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read installed db: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Owner returns the package owning a path (relative to the root), or
// ErrNotInstalled when nobody claims it.
func (db *PackageDB) Owner(rel string) (string, error) {
	clean := strings.TrimPrefix(filepath.Clean("/"+rel), "/")
	if owner, ok := db.ownerIndex("")[clean]; ok {
		return owner, nil
	}
	return "", fmt.Errorf("%w: no package owns %s", ErrNotInstalled, rel)
}

// Satisfied reports whether every provides path of the manifest exists under
// the target root. This is a pure filesystem check, independent of the
// database: files present for any reason satisfy a package.
func (db *PackageDB) Satisfied(m *Manifest) bool {
	if len(m.Provides) == 0 {
		return false
	}
	for _, p := range m.Provides {
		abs, err := withinRoot(db.Root, p)
		if err != nil {
			return false
		}
		if _, err := os.Lstat(abs); err != nil {
			return false
		}
	}
	return true
}

func (db *PackageDB) record(name string) (*InstalledPackage, error) {
	n, v, err := db.Query(name)
	if err != nil {
		return nil, err
	}
	pkg := &InstalledPackage{Name: n, Version: v}

	f, err := os.Open(filepath.Join(db.Dir, name, "files"))
	if err != nil {
		if os.IsNotExist(err) {
			return pkg, nil
		}
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			pkg.Files = append(pkg.Files, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading files record for %s: %w", name, err)
	}
	return pkg, nil
}

// ownerIndex maps every recorded file path to its owning package, excluding
// one package (the one being reinstalled). Built by scanning all records so
// it never goes stale against the on-disk database.
func (db *PackageDB) ownerIndex(exclude string) map[string]string {
	index := make(map[string]string)
	names, err := db.List()
	if err != nil {
		return index
	}
	for _, name := range names {
		if name == exclude {
			continue
		}
		pkg, err := db.record(name)
		if err != nil {
			continue // skip unreadable records
		}
		for _, p := range pkg.Files {
			if !strings.HasSuffix(p, "/") {
				index[p] = name
			}
		}
	}
	return index
}
