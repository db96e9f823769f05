package fay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// PkgState is the per-package progress through the build pipeline.
type PkgState int

const (
	StatePending PkgState = iota
	StateSatisfied
	StateBuilding
	StateBuilt
	StateInstalling
	StateInstalled
	StateFailed
)

func (s PkgState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateSatisfied:
		return "satisfied"
	case StateBuilding:
		return "building"
	case StateBuilt:
		return "built"
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Orchestrator drives plan -> build -> install per package, per stage.
// Strictly sequential: one package at a time, stages in ascending order,
// stage halted on the first failure. Exactly one orchestrator may operate
// on a target root; a flock at the root enforces that.
type Orchestrator struct {
	Store     *ManifestStore
	DB        *PackageDB
	Cache     *ArtifactCache
	Builder   artifactBuilder
	Installer *Installer
	State     *BuildState
	StatePath string

	Force bool            // rebuild and reinstall even when satisfied
	Skip  map[string]bool // package names to leave untouched

	lockFile *os.File
}

func NewOrchestrator(store *ManifestStore, db *PackageDB, cache *ArtifactCache, builder artifactBuilder) *Orchestrator {
	return &Orchestrator{
		Store:     store,
		DB:        db,
		Cache:     cache,
		Builder:   builder,
		Installer: NewInstaller(db, cache, builder),
		State:     newBuildState(),
	}
}

// Lock takes the exclusive build lock on the target root. A second
// concurrent run is an immediate error instead of silent database
// corruption.
func (o *Orchestrator) Lock() error {
	lockPath := filepath.Join(o.DB.Root, "var", "lib", "fay", "lock")
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open build lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("target root %s is locked by another fay run: %w", o.DB.Root, err)
	}
	o.lockFile = f
	return nil
}

// Unlock releases the build lock.
func (o *Orchestrator) Unlock() {
	if o.lockFile != nil {
		_ = unix.Flock(int(o.lockFile.Fd()), unix.LOCK_UN)
		o.lockFile.Close()
		o.lockFile = nil
	}
}

// Run executes every stage of the package set in ascending order.
func (o *Orchestrator) Run(ctx context.Context) error {
	for _, stage := range o.Store.Stages() {
		if o.State.StageDone(stage) && !o.Force {
			colArrow.Print("-> ")
			colNote.Printf("Stage %d already complete, skipping\n", stage)
			continue
		}
		if err := o.RunStage(ctx, stage); err != nil {
			return err
		}
	}
	return nil
}

// RunStage drives the per-package state machine over the stage's build
// plan. The first package failure halts the stage: later packages in the
// same stage are not attempted.
func (o *Orchestrator) RunStage(ctx context.Context, stage int) error {
	plan := o.Store.Plan(stage)
	colArrow.Print("-> ")
	colSuccess.Printf("Stage %d: %d package(s)\n", stage, len(plan.Names))

	for _, name := range plan.Names {
		if o.Skip[name] {
			colArrow.Print("-> ")
			colNote.Printf("Skipping %s (requested)\n", name)
			continue
		}
		m, err := o.Store.Get(name)
		if err != nil {
			return err
		}
		state, err := o.runPackage(ctx, m)
		if err != nil {
			colArrow.Print("-> ")
			colError.Printf("%s failed while %s: %v\n", name, state, err)
			return fmt.Errorf("stage %d halted at %s: %w", stage, name, err)
		}
		o.State.Installed[m.Name] = m.Version
		if err := o.persistState(); err != nil {
			return err
		}
	}

	o.State.MarkStage(stage)
	return o.persistState()
}

// runPackage walks one package through
// Pending -> Satisfied | Building -> Built -> Installing -> Installed.
// The returned state is where processing stopped.
func (o *Orchestrator) runPackage(ctx context.Context, m *Manifest) (PkgState, error) {
	if err := ctx.Err(); err != nil {
		return StatePending, err
	}

	// Provides check first: a satisfied package never touches the builder
	// or installer, no matter what the database says.
	if !o.Force && o.DB.Satisfied(m) {
		colArrow.Print("-> ")
		colNote.Printf("%s already satisfied\n", m.Name)
		return StateSatisfied, nil
	}

	if err := CheckDeps(m, o.DB); err != nil {
		return StatePending, err
	}

	state := StateBuilding
	needBuild := o.Force
	if !needBuild {
		// Resolve through the cache so a mirror hit spares the build.
		if _, err := o.Cache.Get(ctx, m.Name, m.Version); err != nil {
			if !errors.Is(err, ErrArtifactMissing) {
				return state, err
			}
			needBuild = true
		}
	}
	if needBuild {
		if o.Builder == nil {
			return state, fmt.Errorf("%w: %s %s and no builder available", ErrArtifactMissing, m.Name, m.Version)
		}
		if _, err := o.Builder.Build(ctx, m); err != nil {
			return state, err
		}
	}
	state = StateBuilt
	debugf("%s %s: %s\n", m.Name, m.Version, state)

	state = StateInstalling
	if o.Force {
		// Reinstall: drop the stale record so the installer does not no-op.
		if err := o.DB.Remove(m.Name); err != nil && !errors.Is(err, ErrNotInstalled) {
			return state, err
		}
	}
	if err := o.Installer.Install(ctx, m); err != nil {
		return state, err
	}
	return StateInstalled, nil
}

func (o *Orchestrator) persistState() error {
	if o.StatePath == "" {
		return nil
	}
	return o.State.save(o.StatePath)
}
