// Package logging constructs the daemon's hclog.Logger, threaded by
// constructor injection rather than a package global, mirroring how
// hashicorp-nomad wires hclog through its agent.
package logging

import (
	"os"

	"github.com/hashicorp/go-hclog"
)

// New builds the root logger for a pandemic process (daemon or client).
// name is the hclog logger name (e.g. "pandemicd", "pandemicctl"); level
// is parsed with hclog.LevelFromString, falling back to Info on an empty
// or unrecognized string.
func New(name, level string) hclog.Logger {
	lvl := hclog.LevelFromString(level)
	if lvl == hclog.NoLevel {
		lvl = hclog.Info
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   name,
		Level:  lvl,
		Output: os.Stderr,
	})
}
