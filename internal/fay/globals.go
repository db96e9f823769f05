package fay

import (
	"fmt"

	"github.com/gookit/color"
)

// Global variables
var (
	rootDir    string
	cacheDir   string
	sourcesDir string
	tmpDir     string
	stateFile  string

	crossTarget string
	crossBin    string
	sysrootDir  string

	Debug      bool
	ConfigFile = "/etc/fay.conf"

	version   = "dev"     // overridden at build time
	buildDate = "unknown" // overridden at build time
)

// Packages with stage >= chrootStage build inside the target root; everything
// below runs on the host with the cross toolchain. A manifest can override
// this with an explicit environment field.
const chrootStage = 3

// color helpers
var (
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)

// debugf prints debug messages when Debug is true
func debugf(format string, args ...any) {
	if Debug {
		fmt.Printf(format, args...)
	}
}
