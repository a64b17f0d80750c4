// Package faultline embeds the fuzzing orchestrator in other Go programs.
// It re-exports the run manager and configuration types; the faultline
// command is built on the same API.
package faultline

import (
	"faultline/internal/config"
	"faultline/internal/events"
	"faultline/internal/run"
)

type (
	// Config is the root configuration file structure.
	Config = config.Config
	// RunConfig describes one run.
	RunConfig = config.RunConfig
	// ConfigError reports an invalid run configuration.
	ConfigError = config.ConfigError
	// EngineKind selects a run's strategy.
	EngineKind = config.EngineKind

	Manager     = run.Manager
	Option      = run.Option
	Status      = run.Status
	CaptureInfo = run.CaptureInfo

	Event        = events.Event
	Subscription = events.Subscription
)

const (
	EngineMutation  = config.EngineMutation
	EngineGrammar   = config.EngineGrammar
	EngineInjection = config.EngineInjection
	EngineProxy     = config.EngineProxy

	TransportTCP = config.TransportTCP
	TransportUDP = config.TransportUDP
)

var (
	WithRunsDir           = run.WithRunsDir
	WithLogger            = run.WithLogger
	WithLogLevel          = run.WithLogLevel
	WithMetrics           = run.WithMetrics
	WithHeartbeatInterval = run.WithHeartbeatInterval
	WithStopTimeout       = run.WithStopTimeout
)

// NewManager creates a run manager.
func NewManager(opts ...Option) *Manager {
	return run.NewManager(opts...)
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	return config.LoadConfig(path)
}

// IsConfigError reports whether err wraps a *ConfigError.
func IsConfigError(err error) bool {
	return config.IsConfigError(err)
}
