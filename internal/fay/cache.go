package fay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// artifactMirror is a remote store of built artifacts. Satisfied by
// *MirrorClient; tests substitute their own.
type artifactMirror interface {
	Pull(ctx context.Context, key, destPath string) error
	PushFile(ctx context.Context, key, filePath string) error
}

// ArtifactCache stores built install trees as <name>-<version>.pkg.tar.zst.
// The key is purely (name, version): a rebuilt artifact with the same key
// silently shadows the previous one. Clearing the cache is an external,
// explicit operation; nothing here expires.
type ArtifactCache struct {
	Dir    string
	Mirror artifactMirror // optional remote mirror, may be nil
}

func NewArtifactCache(dir string, mirror artifactMirror) *ArtifactCache {
	return &ArtifactCache{Dir: dir, Mirror: mirror}
}

func artifactName(name, version string) string {
	return fmt.Sprintf("%s-%s.pkg.tar.zst", name, version)
}

func (c *ArtifactCache) path(name, version string) string {
	return filepath.Join(c.Dir, artifactName(name, version))
}

// Has reports whether an artifact for (name, version) exists locally.
func (c *ArtifactCache) Has(name, version string) bool {
	info, err := os.Stat(c.path(name, version))
	return err == nil && info.Mode().IsRegular()
}

// Get returns the local path of the artifact for (name, version). On a
// local miss it tries the remote mirror before giving up with
// ErrArtifactMissing.
func (c *ArtifactCache) Get(ctx context.Context, name, version string) (string, error) {
	p := c.path(name, version)
	if c.Has(name, version) {
		return p, nil
	}
	if c.Mirror != nil {
		colArrow.Print("-> ")
		colNote.Printf("Artifact %s not cached, trying mirror\n", artifactName(name, version))
		err := c.Mirror.Pull(ctx, artifactName(name, version), p)
		if err == nil {
			return p, nil
		}
		debugf("mirror pull failed: %v\n", err)
	}
	return "", fmt.Errorf("%w: %s %s", ErrArtifactMissing, name, version)
}

// Put archives treeRoot into the cache and returns the artifact path.
// A sidecar .b3 file records the hash of the finished artifact so stale
// shadowed entries can at least be noticed by operators.
func (c *ArtifactCache) Put(name, version, treeRoot string) (string, error) {
	p := c.path(name, version)
	if err := createTarZst(treeRoot, p); err != nil {
		return "", fmt.Errorf("failed to archive %s: %w", name, err)
	}
	if sum, err := hashFile(p); err == nil {
		_ = os.WriteFile(p+".b3", []byte(sum+"  "+artifactName(name, version)+"\n"), 0o644)
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Package tarball created: %s\n", p)
	return p, nil
}

// Push uploads an artifact to the configured mirror. No-op without one.
func (c *ArtifactCache) Push(ctx context.Context, name, version string) error {
	if c.Mirror == nil {
		return nil
	}
	p := c.path(name, version)
	if _, err := os.Stat(p); err != nil {
		return fmt.Errorf("%w: %s %s", ErrArtifactMissing, name, version)
	}
	return c.Mirror.PushFile(ctx, artifactName(name, version), p)
}
