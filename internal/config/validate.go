package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"strconv"
	"strings"

	"faultline/internal/seeds"
)

// ConfigError reports an invalid run configuration. No run is created when
// one is returned.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s: %s", e.Field, e.Reason)
}

func configErr(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Normalize returns a copy of c with the target shorthand expanded and
// defaults filled in, then validates it.
func (c RunConfig) Normalize() (RunConfig, error) {
	c = c.Clone()
	if c.Target != "" && c.TargetHost == "" && c.TargetPort == 0 {
		host, port, err := ParseTarget(c.Target)
		if err != nil {
			return c, err
		}
		c.TargetHost, c.TargetPort = host, port
	}
	c.Target = ""

	if c.Transport == "" {
		c.Transport = TransportTCP
	}
	c.Transport = strings.ToLower(c.Transport)
	if c.Engine == "" {
		c.Engine = EngineMutation
	}
	if c.DurationSeconds == nil {
		d := DefaultDurationSeconds
		c.DurationSeconds = &d
	}
	if c.SeedMode == "" {
		c.SeedMode = seeds.ModeSequential
	}

	if c.Options.Grammar.Template == "" {
		c.Options.Grammar.Template = DefaultGrammarTemplate
	}
	if c.Options.Proxy.BindHost == "" {
		c.Options.Proxy.BindHost = DefaultProxyBindHost
	}
	if c.Options.Proxy.BindPort == 0 {
		c.Options.Proxy.BindPort = DefaultProxyBindPort
	}
	if c.Options.Proxy.UDPReplyWindowMS <= 0 {
		c.Options.Proxy.UDPReplyWindowMS = DefaultUDPReplyWindowMS
	}

	return c, c.Validate()
}

// Validate checks c without modifying it.
func (c RunConfig) Validate() error {
	if !c.Engine.Valid() {
		return configErr("engine", "unknown engine %q (want one of %s)", c.Engine, kindList())
	}
	if c.TargetHost == "" {
		return configErr("target_host", "required")
	}
	if c.TargetPort < 1 || c.TargetPort > 65535 {
		return configErr("target_port", "%d out of range 1-65535", c.TargetPort)
	}
	if c.Transport != TransportTCP && c.Transport != TransportUDP {
		return configErr("transport", "unsupported transport %q", c.Transport)
	}
	if !c.SeedMode.Valid() {
		return configErr("seed_mode", "unknown mode %q", c.SeedMode)
	}
	if err := c.AnomalyProfile.Validate(); err != nil {
		return configErr("anomaly_profile", "%v", err)
	}
	if c.ThrottleMS != nil && *c.ThrottleMS < 0 {
		return configErr("throttle_ms", "must not be negative")
	}
	if p := c.Options.Proxy.BindPort; p < 0 || p > 65535 {
		return configErr("options.proxy.bind_port", "%d out of range", p)
	}
	if IsRemote(c.TargetHost) && !c.ConfirmRemote {
		return configErr("confirm_remote", "target %s is not local; set confirm_remote to fuzz it", c.TargetHost)
	}
	return nil
}

func kindList() string {
	names := make([]string, len(EngineKinds))
	for i, k := range EngineKinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}

// IsRemote reports whether host lies outside loopback and private ranges.
// Hostnames other than localhost count as remote.
func IsRemote(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return host != "localhost"
	}
	addr = addr.Unmap()
	return !(addr.IsLoopback() || addr.IsPrivate())
}

// ParseTarget splits "host:port". IPv6 hosts must be bracketed.
func ParseTarget(target string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return "", 0, configErr("target", "%v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, configErr("target", "invalid port %q", portStr)
	}
	if host == "" {
		return "", 0, configErr("target", "missing host")
	}
	return host, port, nil
}

// JoinHostPort formats host and port as an address.
func JoinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// ParsePorts expands a comma-separated list of ports and ranges such as
// "80,443,8000-8010" into sorted unique ports.
func ParsePorts(spec string) ([]int, error) {
	set := make(map[int]struct{})
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi := part, part
		if i := strings.Index(part, "-"); i >= 0 {
			lo, hi = strings.TrimSpace(part[:i]), strings.TrimSpace(part[i+1:])
		}
		a, errA := strconv.Atoi(lo)
		b, errB := strconv.Atoi(hi)
		if errA != nil || errB != nil {
			return nil, configErr("ports", "invalid entry %q", part)
		}
		if a > b {
			a, b = b, a
		}
		if a < 1 || b > 65535 {
			return nil, configErr("ports", "entry %q out of range 1-65535", part)
		}
		for p := a; p <= b; p++ {
			set[p] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil, configErr("ports", "no valid ports in %q", spec)
	}
	ports := make([]int, 0, len(set))
	for p := range set {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports, nil
}

// ValidateInstances checks a plan's per-port instance count.
func ValidateInstances(n int) error {
	if n < 1 || n > MaxInstances {
		return configErr("instances", "%d out of range 1-%d", n, MaxInstances)
	}
	return nil
}
