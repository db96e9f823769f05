package fay

import (
	"fmt"
	"regexp"
)

var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// The fixed placeholder vocabulary available to build commands. Anything
// else in a ${...} is a manifest error, caught at load time rather than
// silently left unexpanded in the shell.
var knownPlaceholders = map[string]struct{}{
	"NPROC":    {},
	"version":  {},
	"PKG":      {},
	"DESTDIR":  {},
	"TARGET":   {},
	"SYSROOT":  {},
	"CROSSBIN": {},
	"SOURCES":  {},
}

// checkPlaceholders validates that a command template only references the
// known placeholder set.
func checkPlaceholders(command string) error {
	for _, m := range placeholderRe.FindAllStringSubmatch(command, -1) {
		if _, ok := knownPlaceholders[m[1]]; !ok {
			return fmt.Errorf("unknown placeholder ${%s} in command %q", m[1], command)
		}
	}
	return nil
}

// expandCommand substitutes every placeholder from vars. Templates are
// validated at manifest load, so a missing key here is a programming error
// and reported as such.
func expandCommand(command string, vars map[string]string) (string, error) {
	var expandErr error
	out := placeholderRe.ReplaceAllStringFunc(command, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		val, ok := vars[name]
		if !ok {
			expandErr = fmt.Errorf("no value for placeholder ${%s}", name)
			return m
		}
		return val
	})
	return out, expandErr
}
