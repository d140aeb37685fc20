package logging

import (
	"encoding/json"
	"strings"
)

// Config holds logging configuration: level, module-scoped trace list, and
// the directory log files are written to.
type Config struct {
	Level        string   `json:"level"`
	TraceModules []string `json:"trace_modules"`
	LogDir       string   `json:"log_dir"`
}

// Apply initializes the global logger from Config.
func Apply(cfg Config) error {
	level, ok := levelFromString[strings.ToUpper(cfg.Level)]
	if !ok {
		level = INFO
	}
	return Init(cfg.LogDir, level, cfg.TraceModules)
}

// CurrentJSON returns the live logger's level/trace configuration as JSON,
// useful for a debug endpoint.
func CurrentJSON() ([]byte, error) {
	l := Get()
	l.mu.RLock()
	defer l.mu.RUnlock()

	levelName := levelNames[l.level]
	modules := make([]string, 0, len(l.traceModules))
	for m := range l.traceModules {
		modules = append(modules, m)
	}

	return json.Marshal(Config{Level: levelName, TraceModules: modules})
}
