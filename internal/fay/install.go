package fay

import (
	"context"
	"errors"
	"fmt"
)

// artifactBuilder produces a build artifact for a manifest. Satisfied by
// *Builder; tests substitute their own.
type artifactBuilder interface {
	Build(ctx context.Context, m *Manifest) (string, error)
}

// Installer resolves a package's artifact and commits it to the database.
type Installer struct {
	DB      *PackageDB
	Cache   *ArtifactCache
	Builder artifactBuilder
}

func NewInstaller(db *PackageDB, cache *ArtifactCache, builder artifactBuilder) *Installer {
	return &Installer{DB: db, Cache: cache, Builder: builder}
}

// Install places a package into the target root. Already-installed packages
// are a no-op. The artifact is resolved from the cache (or mirror), built on
// a miss, then handed to the database for extraction and bookkeeping.
func (ins *Installer) Install(ctx context.Context, m *Manifest) error {
	if _, installedVersion, err := ins.DB.Query(m.Name); err == nil {
		debugf("%s %s already installed, skipping\n", m.Name, installedVersion)
		return nil
	}

	artifact, err := ins.Cache.Get(ctx, m.Name, m.Version)
	if errors.Is(err, ErrArtifactMissing) && ins.Builder != nil {
		artifact, err = ins.Builder.Build(ctx, m)
	}
	if err != nil {
		return fmt.Errorf("cannot resolve artifact for %s %s: %w", m.Name, m.Version, err)
	}

	return criticalSection(func() error {
		_, err := ins.DB.Install(artifact)
		return err
	})
}
