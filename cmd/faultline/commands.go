package main

import (
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"strings"

	"faultline/internal/anomaly"
	"faultline/internal/config"
	"faultline/internal/run"
	"faultline/internal/seeds"

	"github.com/spf13/cobra"
)

// runFlags holds the flags shared by run and plan. Flags that were set on
// the command line override the config file.
type runFlags struct {
	configPath    string
	target        string
	transport     string
	engine        string
	iface         string
	duration      int
	seedFiles     []string
	seedMode      string
	throttle      int
	anomalies     string
	passive       bool
	confirmRemote bool
	template      string
	mutator       string
	bind          string
	replyWindow   int
	runsDir       string
	metricsListen string
	output        string
	quiet         bool
	logLevel      string

	// plan only
	ports     string
	instances int
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "faultline",
		Short: "Network protocol fuzzing orchestrator",
		Long: `faultline sends malformed traffic to a device under test over TCP or UDP,
relays and corrupts live sessions, and keeps every packet as pcap evidence.`,
		Version:       run.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(&runFlags{}), newPlanCmd(&runFlags{}), newEnginesCmd(), newCapturesCmd())
	return root
}

func newRunCmd(f *runFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one fuzzing run until its duration ends or it is interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return runCampaign(cmd, cfg, f, func(m *run.Manager) ([]string, error) {
				id, err := m.StartRun(cfg.Run)
				if err != nil {
					return nil, err
				}
				return []string{id}, nil
			})
		},
	}
	addRunFlags(cmd, f)
	return cmd
}

func newPlanCmd(f *runFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Fan one run configuration out over several ports and instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			if cfg.Plan == nil || cfg.Plan.Ports == "" {
				return &config.ConfigError{Field: "ports", Reason: "set --ports or plan.ports"}
			}
			ports, err := config.ParsePorts(cfg.Plan.Ports)
			if err != nil {
				return err
			}
			instances := cfg.Plan.Instances
			if instances == 0 {
				instances = 1
			}
			return runCampaign(cmd, cfg, f, func(m *run.Manager) ([]string, error) {
				return m.StartPlan(cfg.Run, ports, instances)
			})
		},
	}
	addRunFlags(cmd, f)
	cmd.Flags().StringVar(&f.ports, "ports", "", `ports to fuzz, e.g. "80,443,8000-8010"`)
	cmd.Flags().IntVar(&f.instances, "instances", 1, "runs per port")
	return cmd
}

func addRunFlags(cmd *cobra.Command, f *runFlags) {
	fl := cmd.Flags()
	fl.StringVarP(&f.configPath, "config", "c", "", "path to YAML config file")
	fl.StringVarP(&f.target, "target", "t", "", "target as host:port")
	fl.StringVar(&f.transport, "transport", config.TransportTCP, "tcp or udp")
	fl.StringVarP(&f.engine, "engine", "e", string(config.EngineMutation), "engine to use (see 'faultline engines')")
	fl.StringVarP(&f.iface, "interface", "i", "", "network interface to bind and capture on")
	fl.IntVarP(&f.duration, "duration", "d", config.DefaultDurationSeconds, "run length in seconds, 0 runs until interrupted")
	fl.StringSliceVar(&f.seedFiles, "seed", nil, "seed file (repeatable)")
	fl.StringVar(&f.seedMode, "seed-mode", string(seeds.ModeSequential), "sequential or random")
	fl.IntVar(&f.throttle, "throttle", 0, "pause between sends in milliseconds (default per engine)")
	fl.StringVar(&f.anomalies, "anomalies", "", `anomaly weights, e.g. "null_bytes=3,size_overflow=1"`)
	fl.BoolVar(&f.passive, "passive", false, "also capture all traffic on --interface")
	fl.BoolVar(&f.confirmRemote, "confirm-remote", false, "allow a target outside loopback and private ranges")
	fl.StringVar(&f.template, "template", config.DefaultGrammarTemplate, "grammar template")
	fl.StringVar(&f.mutator, "mutator", "", "path to the external mutator")
	fl.StringVar(&f.bind, "bind", "", "proxy listen address as host:port")
	fl.IntVar(&f.replyWindow, "reply-window", config.DefaultUDPReplyWindowMS, "proxy UDP reply window in milliseconds")
	fl.StringVar(&f.runsDir, "runs-dir", run.DefaultRunsDir, "directory for run artifacts")
	fl.StringVar(&f.metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address")
	fl.StringVarP(&f.output, "output", "o", "text", "summary format: text or json")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "suppress progress output")
	fl.StringVar(&f.logLevel, "log-level", "info", "run log level: debug, info, warn or error")
}

// loadConfig reads the config file, if any, and applies changed flags.
func loadConfig(cmd *cobra.Command, f *runFlags) (*config.Config, error) {
	cfg := &config.Config{}
	if f.configPath != "" {
		loaded, err := config.LoadConfig(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		cfg.Run.SeedFiles = seeds.Resolve(cfg.Run.SeedFiles, filepath.Dir(f.configPath))
	}
	if err := applyFlags(cmd, f, cfg); err != nil {
		return nil, err
	}
	if err := seeds.Check(cfg.Run.SeedFiles); err != nil {
		return nil, err
	}
	if err := cfg.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("thresholds: %w", err)
	}
	if cfg.RunsDir == "" {
		cfg.RunsDir = run.DefaultRunsDir
	}
	return cfg, nil
}

// applyFlags copies every flag set on the command line into cfg. Flags left
// at their default do not override the file.
func applyFlags(cmd *cobra.Command, f *runFlags, cfg *config.Config) error {
	changed := cmd.Flags().Changed
	r := &cfg.Run

	if changed("target") {
		r.Target = f.target
		r.TargetHost, r.TargetPort = "", 0
	}
	if changed("transport") {
		r.Transport = f.transport
	}
	if changed("engine") {
		r.Engine = config.EngineKind(f.engine)
	}
	if changed("interface") {
		r.Interface = f.iface
	}
	if changed("duration") {
		d := f.duration
		r.DurationSeconds = &d
	}
	if changed("seed") {
		r.SeedFiles = f.seedFiles
	}
	if changed("seed-mode") {
		r.SeedMode = seeds.Mode(f.seedMode)
	}
	if changed("throttle") {
		t := f.throttle
		r.ThrottleMS = &t
	}
	if changed("anomalies") {
		p, err := parseProfile(f.anomalies)
		if err != nil {
			return err
		}
		r.AnomalyProfile = p
	}
	if changed("passive") {
		p := f.passive
		r.PassiveCapture = &p
	}
	if changed("confirm-remote") {
		r.ConfirmRemote = f.confirmRemote
	}
	if changed("template") {
		r.Options.Grammar.Template = f.template
	}
	if changed("mutator") {
		r.Options.Mutation.MutatorPath = f.mutator
	}
	if changed("bind") {
		host, port, err := splitBind(f.bind)
		if err != nil {
			return err
		}
		r.Options.Proxy.BindHost, r.Options.Proxy.BindPort = host, port
	}
	if changed("reply-window") {
		r.Options.Proxy.UDPReplyWindowMS = f.replyWindow
	}
	if changed("runs-dir") {
		cfg.RunsDir = f.runsDir
	}
	if changed("metrics-listen") {
		cfg.Metrics.Listen = f.metricsListen
	}
	if changed("ports") || changed("instances") {
		if cfg.Plan == nil {
			cfg.Plan = &config.PlanConfig{}
		}
		if changed("ports") {
			cfg.Plan.Ports = f.ports
		}
		if changed("instances") {
			cfg.Plan.Instances = f.instances
		}
	}
	return nil
}

// parseProfile reads "category=weight" pairs separated by commas, keeping
// their order.
func parseProfile(s string) (anomaly.Profile, error) {
	var p anomaly.Profile
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, weight, ok := strings.Cut(part, "=")
		if !ok {
			return nil, &config.ConfigError{Field: "anomalies", Reason: fmt.Sprintf("%q is not category=weight", part)}
		}
		w, err := strconv.Atoi(strings.TrimSpace(weight))
		if err != nil {
			return nil, &config.ConfigError{Field: "anomalies", Reason: fmt.Sprintf("weight of %q: %v", name, err)}
		}
		p = append(p, anomaly.Weight{Category: anomaly.Category(strings.TrimSpace(name)), Weight: w})
	}
	return p, nil
}

// splitBind parses a proxy listen address.
func splitBind(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, &config.ConfigError{Field: "bind", Reason: err.Error()}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return "", 0, &config.ConfigError{Field: "bind", Reason: fmt.Sprintf("invalid port %q", portStr)}
	}
	return host, port, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
