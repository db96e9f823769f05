package fay

import (
	"fmt"
	"io"
	"os"
	"strings"

	"lukechampine.com/blake3"
)

// hashFile returns the BLAKE3 hash of a file as lowercase hex.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	buf := make([]byte, 64*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func hashString(s string) string {
	h := blake3.New(32, nil)
	h.Write([]byte(s))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// verifySource checks a downloaded source file against the manifest's
// recorded checksum. A missing checksum is diagnosed but tolerated so new
// packages can be brought up; a mismatch stops the build.
func verifySource(m *Manifest, path string) error {
	sum, err := hashFile(path)
	if err != nil {
		return fmt.Errorf("failed to compute checksum for %s: %w", path, err)
	}
	if m.Checksum == "" {
		colArrow.Print("-> ")
		colWarn.Printf("No checksum recorded for %s; computed %s\n", m.Name, sum)
		return nil
	}
	if !strings.EqualFold(sum, m.Checksum) {
		return fmt.Errorf("checksum mismatch for %s: expected %s, found %s", m.Name, m.Checksum, sum)
	}
	debugf("Checksum ok for %s\n", path)
	return nil
}
