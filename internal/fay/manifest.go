package fay

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// BuildSystem selects the default build recipe for a package.
type BuildSystem string

const (
	BuildAutotools BuildSystem = "autotools"
	BuildMeson     BuildSystem = "meson"
	BuildCMake     BuildSystem = "cmake"
	BuildMake      BuildSystem = "make"
	BuildCustom    BuildSystem = "custom"
)

// ExecEnv names where a package's build commands run.
type ExecEnv string

const (
	EnvDefault ExecEnv = ""       // stage-based selection
	EnvHost    ExecEnv = "host"   // host with cross toolchain PATH
	EnvChroot  ExecEnv = "chroot" // inside the target root
)

// orderUnset sorts packages without an explicit build-order after every
// package that declares one.
const orderUnset = int(^uint(0) >> 1)

// Manifest is one declared package from the package set.
type Manifest struct {
	Name          string
	Version       string
	Stage         int
	BuildSystem   BuildSystem
	BuildCommands []string
	Provides      []string
	Depends       []string
	BuildOrder    int
	SourceURL     string
	GitURL        string
	Checksum      string
	SafeFlags     bool
	Environment   ExecEnv

	declIndex int // position in the package set, tie-breaker for planning
}

// UseGit reports whether the package's source is a git checkout.
func (m *Manifest) UseGit() bool { return m.GitURL != "" }

// Env resolves the execution environment, defaulting to the stage split.
func (m *Manifest) Env() ExecEnv {
	if m.Environment != EnvDefault {
		return m.Environment
	}
	if m.Stage >= chrootStage {
		return EnvChroot
	}
	return EnvHost
}

// ManifestStore holds the parsed package set.
type ManifestStore struct {
	byName  map[string]*Manifest
	ordered []*Manifest
}

// LoadManifests parses the package set at path. A malformed section is
// diagnosed and skipped so one broken manifest does not block unrelated
// packages; a dangling depends entry anywhere in the set is fatal.
func LoadManifests(path string) (*ManifestStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open package set %s: %w", path, err)
	}
	defer f.Close()
	return ParseManifests(f)
}

// ParseManifests reads a section-keyed package set from r.
func ParseManifests(r io.Reader) (*ManifestStore, error) {
	store := &ManifestStore{byName: make(map[string]*Manifest)}

	var cur *Manifest
	var curErr error
	lineNo := 0

	flush := func() {
		if cur == nil {
			return
		}
		if curErr == nil {
			curErr = validateManifest(cur)
		}
		if curErr != nil {
			colWarn.Printf("skipping package %s: %v\n", cur.Name, curErr)
		} else if _, dup := store.byName[cur.Name]; dup {
			colWarn.Printf("skipping package %s: duplicate section\n", cur.Name)
		} else {
			cur.declIndex = len(store.ordered)
			store.byName[cur.Name] = cur
			store.ordered = append(store.ordered, cur)
		}
		cur, curErr = nil, nil
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			flush()
			name := strings.TrimSpace(line[1 : len(line)-1])
			if name == "" {
				colWarn.Printf("line %d: empty section name, skipping\n", lineNo)
				continue
			}
			cur = &Manifest{Name: name, BuildSystem: BuildAutotools, BuildOrder: orderUnset}
			continue
		}

		if cur == nil {
			colWarn.Printf("line %d: key outside any section, ignoring\n", lineNo)
			continue
		}
		if curErr != nil {
			continue // section already condemned, drain its lines
		}

		key, val, ok := strings.Cut(line, "=")
		if !ok {
			curErr = fmt.Errorf("line %d: malformed entry %q", lineNo, line)
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)

		switch key {
		case "version":
			cur.Version = val
		case "stage":
			n, err := strconv.Atoi(val)
			if err != nil {
				curErr = fmt.Errorf("line %d: bad stage %q", lineNo, val)
				continue
			}
			cur.Stage = n
		case "build-system":
			switch BuildSystem(val) {
			case BuildAutotools, BuildMeson, BuildCMake, BuildMake, BuildCustom:
				cur.BuildSystem = BuildSystem(val)
			default:
				curErr = fmt.Errorf("line %d: unknown build-system %q", lineNo, val)
			}
		case "build":
			if err := checkPlaceholders(val); err != nil {
				curErr = fmt.Errorf("line %d: %v", lineNo, err)
				continue
			}
			cur.BuildCommands = append(cur.BuildCommands, val)
		case "provides":
			cur.Provides = append(cur.Provides, strings.Fields(val)...)
		case "depends":
			cur.Depends = append(cur.Depends, strings.Fields(val)...)
		case "build-order":
			n, err := strconv.Atoi(val)
			if err != nil {
				curErr = fmt.Errorf("line %d: bad build-order %q", lineNo, val)
				continue
			}
			cur.BuildOrder = n
		case "source":
			cur.SourceURL = val
		case "git":
			cur.GitURL = val
		case "checksum":
			cur.Checksum = val
		case "safe-flags":
			cur.SafeFlags = val == "1" || strings.EqualFold(val, "true") || strings.EqualFold(val, "yes")
		case "environment":
			switch ExecEnv(val) {
			case EnvHost, EnvChroot:
				cur.Environment = ExecEnv(val)
			default:
				curErr = fmt.Errorf("line %d: unknown environment %q", lineNo, val)
			}
		default:
			curErr = fmt.Errorf("line %d: unknown key %q", lineNo, key)
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading package set: %w", err)
	}

	// Dangling dependency edges are a configuration error for the whole set.
	for _, m := range store.ordered {
		for _, dep := range m.Depends {
			if _, ok := store.byName[dep]; !ok {
				return nil, fmt.Errorf("package %s depends on undeclared package %s", m.Name, dep)
			}
		}
	}
	return store, nil
}

func validateManifest(m *Manifest) error {
	if m.Version == "" {
		return fmt.Errorf("missing required field version")
	}
	if m.SourceURL != "" && m.GitURL != "" {
		return fmt.Errorf("both source and git declared")
	}
	if m.SourceURL == "" && m.GitURL == "" {
		return fmt.Errorf("no source locator declared")
	}
	if m.BuildSystem == BuildCustom && len(m.BuildCommands) == 0 {
		return fmt.Errorf("custom build-system without build commands")
	}
	for _, p := range m.Provides {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("provides path %q is not absolute", p)
		}
	}
	return nil
}

// All returns the manifests in declaration order.
func (s *ManifestStore) All() []*Manifest { return s.ordered }

// Get looks up one package by name.
func (s *ManifestStore) Get(name string) (*Manifest, error) {
	m, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPackage, name)
	}
	return m, nil
}

// Stages returns the distinct stage ordinals present in the set, ascending.
func (s *ManifestStore) Stages() []int {
	seen := make(map[int]bool)
	var stages []int
	for _, m := range s.ordered {
		if !seen[m.Stage] {
			seen[m.Stage] = true
			stages = append(stages, m.Stage)
		}
	}
	sort.Ints(stages)
	return stages
}
