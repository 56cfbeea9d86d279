// Package logging wraps hclog the way the teacher's lib/logger wraps the
// standard logger: one package-level logger obtained via Setup, plus
// structured per-component children via Named.
package logging

import (
	"os"

	"github.com/hashicorp/go-hclog"
)

var base = hclog.New(&hclog.LoggerOptions{
	Name:            "dragonfly",
	Level:           hclog.Info,
	Output:          os.Stderr,
	IncludeLocation: false,
})

// Settings configures the base logger. Unset fields keep their defaults.
type Settings struct {
	Name  string
	Level string
}

// Setup reconfigures the base logger, mirroring the teacher's
// logger.Setup(&logger.Settings{...}) entry point.
func Setup(s *Settings) {
	name := "dragonfly"
	if s.Name != "" {
		name = s.Name
	}
	level := hclog.Info
	if s.Level != "" {
		level = hclog.LevelFromString(s.Level)
	}
	base = hclog.New(&hclog.LoggerOptions{
		Name:            name,
		Level:           level,
		Output:          os.Stderr,
		IncludeLocation: false,
	})
}

// Named returns a child logger for a component (e.g. "shard.3", "snapshot").
func Named(component string) hclog.Logger {
	return base.Named(component)
}

// L returns the base logger.
func L() hclog.Logger {
	return base
}
