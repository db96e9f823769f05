package fay

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	transport.TLSHandshakeTimeout = 30 * time.Second
	return &http.Client{
		Transport: transport,
		Timeout:   300 * time.Second, // 5 min total for large downloads
	}
}

// fetchSource resolves the manifest's source locator into a local file or
// checkout and returns its path. HTTP sources land in the shared sources
// cache; git sources are cloned fresh under destDir.
func fetchSource(ctx context.Context, m *Manifest, destDir string, execCtx *Executor) (string, error) {
	if m.UseGit() {
		checkout := filepath.Join(destDir, m.Name+".git")
		if err := os.RemoveAll(checkout); err != nil {
			return "", fmt.Errorf("failed to clean git checkout dir: %w", err)
		}
		cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", m.GitURL, checkout)
		if err := execCtx.Run(cmd); err != nil {
			return "", fmt.Errorf("git clone of %s failed: %w", m.GitURL, err)
		}
		return checkout, nil
	}

	dest := filepath.Join(sourcesDir, filepath.Base(m.SourceURL))
	if err := downloadFile(ctx, m.SourceURL, dest); err != nil {
		return "", err
	}
	return dest, nil
}

// downloadFile fetches url into destFile. The destination is flock'd so two
// runs fetching the same file serialize instead of clobbering each other.
func downloadFile(ctx context.Context, url, destFile string) error {
	if err := os.MkdirAll(filepath.Dir(destFile), 0o755); err != nil {
		return fmt.Errorf("failed to create sources directory: %w", err)
	}

	lockPath := destFile + ".lock"
	lFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create download lock: %w", err)
	}
	defer lFile.Close()
	if err := unix.Flock(int(lFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire download lock: %w", err)
	}
	defer unix.Flock(int(lFile.Fd()), unix.LOCK_UN)

	// Another run may have finished the download while we waited.
	if _, err := os.Stat(destFile); err == nil {
		debugf("File %s already present, skipping download\n", destFile)
		_ = os.Remove(lockPath)
		return nil
	}

	debugf("Downloading %s -> %s\n", url, destFile)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := newHTTPClient().Do(req)
	if err != nil {
		return fmt.Errorf("download of %s failed: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download of %s failed: %s", url, resp.Status)
	}

	tmp := destFile + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	var w io.Writer = out
	if term.IsTerminal(int(os.Stdout.Fd())) {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(destFile))
		w = io.MultiWriter(out, bar)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("download of %s interrupted: %w", url, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, destFile); err != nil {
		return err
	}
	_ = os.Remove(lockPath)
	return nil
}
