// Package logging hands out prefixed component loggers that share one level and
// output, so the server and CLI can configure every package from a single place.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/labstack/gommon/log"
)

const header = "${time_rfc3339} ${level} [${prefix}]"

var (
	mu      sync.Mutex
	loggers           = map[string]*log.Logger{}
	level             = log.INFO
	output  io.Writer = os.Stderr
)

// New returns the logger for a component, creating it on first use.
func New(prefix string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[prefix]; ok {
		return l
	}
	l := log.New(prefix)
	l.SetHeader(header)
	l.SetLevel(level)
	l.SetOutput(output)
	loggers[prefix] = l
	return l
}

// SetLevel applies a level name (debug, info, warn, error, off) to all loggers.
// Unknown names fall back to info.
func SetLevel(name string) {
	mu.Lock()
	defer mu.Unlock()
	level = ParseLevel(name)
	for _, l := range loggers {
		l.SetLevel(level)
	}
}

// SetOutput redirects all loggers.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	for _, l := range loggers {
		l.SetOutput(w)
	}
}

// ParseLevel maps a config level name to a gommon level.
func ParseLevel(name string) log.Lvl {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off", "none":
		return log.OFF
	default:
		return log.INFO
	}
}
