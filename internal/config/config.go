// Package config handles run configuration and YAML file parsing.
package config

import (
	"fmt"
	"os"

	"faultline/internal/anomaly"
	"faultline/internal/report"
	"faultline/internal/seeds"

	"gopkg.in/yaml.v3"
)

// EngineKind selects the strategy a run uses.
type EngineKind string

const (
	EngineMutation  EngineKind = "mutation"
	EngineGrammar   EngineKind = "grammar"
	EngineInjection EngineKind = "packet-injection"
	EngineProxy     EngineKind = "proxy"
)

// EngineKinds lists every supported engine.
var EngineKinds = []EngineKind{EngineMutation, EngineGrammar, EngineInjection, EngineProxy}

// Valid reports whether k is one of EngineKinds.
func (k EngineKind) Valid() bool {
	for _, known := range EngineKinds {
		if k == known {
			return true
		}
	}
	return false
}

const (
	TransportTCP = "tcp"
	TransportUDP = "udp"
)

// Defaults applied by Normalize.
const (
	DefaultDurationSeconds  = 60
	DefaultGrammarTemplate  = "http"
	DefaultProxyBindHost    = "0.0.0.0"
	DefaultProxyBindPort    = 8888
	DefaultUDPReplyWindowMS = 5
	MaxInstances            = 32
)

// RunConfig describes one fuzzing run. It is not modified once the run starts.
type RunConfig struct {
	Target          string          `yaml:"target,omitempty" json:"-"` // "host:port" shorthand
	TargetHost      string          `yaml:"target_host" json:"target_host"`
	TargetPort      int             `yaml:"target_port" json:"target_port"`
	Transport       string          `yaml:"transport" json:"transport"`
	Interface       string          `yaml:"interface" json:"interface"`
	DurationSeconds *int            `yaml:"duration_seconds" json:"duration_seconds"`
	Engine          EngineKind      `yaml:"engine" json:"engine"`
	SeedFiles       []string        `yaml:"seed_files" json:"seed_files"`
	SeedMode        seeds.Mode      `yaml:"seed_mode" json:"seed_mode"`
	AnomalyProfile  anomaly.Profile `yaml:"anomaly_profile" json:"anomaly_profile"`
	ThrottleMS      *int            `yaml:"throttle_ms" json:"throttle_ms,omitempty"`
	PassiveCapture  *bool           `yaml:"passive_capture" json:"passive_capture,omitempty"`
	ConfirmRemote   bool            `yaml:"confirm_remote" json:"confirm_remote"`
	Options         EngineOptions   `yaml:"options" json:"options"`
}

// EngineOptions holds the per-engine settings.
type EngineOptions struct {
	Mutation MutationOptions `yaml:"mutation" json:"mutation"`
	Grammar  GrammarOptions  `yaml:"grammar" json:"grammar"`
	Proxy    ProxyOptions    `yaml:"proxy" json:"proxy"`
}

// MutationOptions configures the mutation engine.
type MutationOptions struct {
	MutatorPath string `yaml:"mutator_path" json:"mutator_path,omitempty"`
}

// GrammarOptions configures the grammar engine.
type GrammarOptions struct {
	Template string `yaml:"template" json:"template"`
}

// ProxyOptions configures the proxy listener.
type ProxyOptions struct {
	BindHost         string `yaml:"bind_host" json:"bind_host"`
	BindPort         int    `yaml:"bind_port" json:"bind_port"`
	UDPReplyWindowMS int    `yaml:"udp_reply_window_ms" json:"udp_reply_window_ms"`
}

// Duration returns the configured duration in seconds. A value <= 0 means
// the run lasts until stopped.
func (c RunConfig) Duration() int {
	if c.DurationSeconds == nil {
		return DefaultDurationSeconds
	}
	return *c.DurationSeconds
}

// Clone returns a copy of c that shares no slices or pointers with it.
func (c RunConfig) Clone() RunConfig {
	c.SeedFiles = append([]string(nil), c.SeedFiles...)
	c.AnomalyProfile = append(c.AnomalyProfile[:0:0], c.AnomalyProfile...)
	if c.DurationSeconds != nil {
		d := *c.DurationSeconds
		c.DurationSeconds = &d
	}
	if c.ThrottleMS != nil {
		t := *c.ThrottleMS
		c.ThrottleMS = &t
	}
	if c.PassiveCapture != nil {
		p := *c.PassiveCapture
		c.PassiveCapture = &p
	}
	return c
}

// Addr returns the target as host:port.
func (c RunConfig) Addr() string {
	return JoinHostPort(c.TargetHost, c.TargetPort)
}

// Throttle returns the configured throttle, or def when unset.
func (c RunConfig) Throttle(def int) int {
	if c.ThrottleMS == nil {
		return def
	}
	return *c.ThrottleMS
}

// Passive reports whether passive capture should run. It defaults to on
// whenever an interface is named.
func (c RunConfig) Passive() bool {
	if c.PassiveCapture != nil {
		return *c.PassiveCapture && c.Interface != ""
	}
	return c.Interface != ""
}

// Config is the root configuration file structure.
type Config struct {
	Run        RunConfig          `yaml:"run"`
	Plan       *PlanConfig        `yaml:"plan,omitempty"`
	Thresholds *report.Thresholds `yaml:"thresholds,omitempty"`
	RunsDir    string             `yaml:"runs_dir,omitempty"`
	Metrics    MetricsConfig      `yaml:"metrics,omitempty"`
}

// PlanConfig fans one run configuration out over several ports.
type PlanConfig struct {
	Ports     string `yaml:"ports"` // e.g. "80,443,8000-8010"
	Instances int    `yaml:"instances"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}
