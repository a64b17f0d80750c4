package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"faultline/internal/anomaly"
	"faultline/internal/config"
	"faultline/testserver"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := execute(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// noMutator keeps an installed radamsa out of CLI runs.
func noMutator(t *testing.T) {
	t.Setenv("PATH", t.TempDir())
	t.Setenv("FAULTLINE_MUTATOR", "")
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "faultline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestApplyFlags_OverrideFile(t *testing.T) {
	path := writeConfig(t, `
run:
  target_host: 127.0.0.1
  target_port: 9000
  transport: udp
  engine: grammar
  duration_seconds: 30
  throttle_ms: 7
  options:
    grammar:
      template: ftp
`)
	f := &runFlags{}
	cmd := newRunCmd(f)
	require.NoError(t, cmd.ParseFlags([]string{
		"--config", path,
		"--target", "127.0.0.1:9100",
		"--duration", "0",
		"--anomalies", "null_bytes=3, size_overflow=1",
	}))
	cfg, err := loadConfig(cmd, f)
	require.NoError(t, err)

	r, err := cfg.Run.Normalize()
	require.NoError(t, err)
	assert.Equal(t, 9100, r.TargetPort, "flag beats file")
	assert.Equal(t, 0, r.Duration())
	assert.Equal(t, "udp", r.Transport, "unset flag keeps file value")
	assert.Equal(t, config.EngineGrammar, r.Engine)
	assert.Equal(t, 7, r.Throttle(0))
	assert.Equal(t, "ftp", r.Options.Grammar.Template)
	assert.Equal(t, anomaly.Profile{
		{Category: anomaly.NullBytes, Weight: 3},
		{Category: anomaly.SizeOverflow, Weight: 1},
	}, r.AnomalyProfile)
	assert.Equal(t, "runs", cfg.RunsDir)
}

func TestLoadConfig_ResolvesSeedsAgainstConfigDir(t *testing.T) {
	path := writeConfig(t, `
run:
  target: 127.0.0.1:9000
  seed_files: [seed.bin]
`)
	seed := filepath.Join(filepath.Dir(path), "seed.bin")
	require.NoError(t, os.WriteFile(seed, []byte("x"), 0644))

	f := &runFlags{}
	cmd := newRunCmd(f)
	require.NoError(t, cmd.ParseFlags([]string{"-c", path}))
	cfg, err := loadConfig(cmd, f)
	require.NoError(t, err)
	assert.Equal(t, []string{seed}, cfg.Run.SeedFiles)

	require.NoError(t, os.Remove(seed))
	_, err = loadConfig(cmd, f)
	assert.ErrorContains(t, err, "seed.bin")
}

func TestParseProfile(t *testing.T) {
	p, err := parseProfile("format_strings=2,,null_bytes = 1")
	require.NoError(t, err)
	assert.Equal(t, anomaly.Profile{
		{Category: anomaly.FormatStrings, Weight: 2},
		{Category: anomaly.NullBytes, Weight: 1},
	}, p)

	for _, bad := range []string{"null_bytes", "null_bytes=lots"} {
		_, err := parseProfile(bad)
		assert.True(t, config.IsConfigError(err), "input %q", bad)
	}
}

func TestSplitBind(t *testing.T) {
	host, port, err := splitBind("127.0.0.1:9999")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, 9999, port)

	_, _, err = splitBind("nope")
	assert.Error(t, err)
	_, _, err = splitBind("0.0.0.0:70000")
	assert.Error(t, err)
}

func TestExecute_Engines(t *testing.T) {
	noMutator(t)
	code, out, _ := runCLI(t, "engines")
	assert.Equal(t, ExitSuccess, code)
	for _, kind := range config.EngineKinds {
		assert.Contains(t, out, string(kind))
	}
	assert.Contains(t, out, "http")
	assert.Contains(t, out, "null_bytes")
	assert.Contains(t, out, "built-in fallback")
}

func TestExecute_InvalidConfigIsError(t *testing.T) {
	runsDir := t.TempDir()
	code, _, stderr := runCLI(t, "run", "-t", "127.0.0.1:9", "-e", "radamsa", "--runs-dir", runsDir, "-q")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "unknown engine")

	entries, err := os.ReadDir(runsDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExecute_RunAndListCaptures(t *testing.T) {
	noMutator(t)
	target, err := testserver.Start(testserver.Options{NoTCP: true})
	require.NoError(t, err)
	defer target.Close()
	runsDir := t.TempDir()

	code, out, stderr := runCLI(t, "run",
		"-t", fmt.Sprintf("127.0.0.1:%d", target.UDPPort()),
		"--transport", "udp", "-d", "1", "--throttle", "50",
		"--runs-dir", runsDir, "-o", "json")
	require.Equal(t, ExitSuccess, code, stderr)

	var summary struct {
		TotalSent int64 `json:"totalSent"`
		Runs      []struct {
			ID      string `json:"id"`
			Capture string `json:"capture"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Positive(t, summary.TotalSent)
	require.Len(t, summary.Runs, 1)
	assert.FileExists(t, summary.Runs[0].Capture)

	code, out, _ = runCLI(t, "captures", "--runs-dir", runsDir)
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, summary.Runs[0].ID)
	assert.Contains(t, out, "udp")

	code, _, _ = runCLI(t, "captures", "delete", summary.Runs[0].ID, "--runs-dir", runsDir)
	assert.Equal(t, ExitSuccess, code)
	code, out, _ = runCLI(t, "captures", "--runs-dir", runsDir)
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "No captures")
}

func TestExecute_ThresholdFailure(t *testing.T) {
	noMutator(t)
	target, err := testserver.Start(testserver.Options{NoTCP: true})
	require.NoError(t, err)
	defer target.Close()

	path := writeConfig(t, fmt.Sprintf(`
run:
  target: 127.0.0.1:%d
  transport: udp
  duration_seconds: 1
  throttle_ms: 100
runs_dir: %s
thresholds:
  min_sent: 1000000
`, target.UDPPort(), t.TempDir()))

	code, out, stderr := runCLI(t, "run", "-c", path, "-q")
	assert.Equal(t, ExitThresholdFailed, code)
	assert.Contains(t, out, "sent.min")
	assert.Contains(t, stderr, "Threshold check failed")
}

func TestExecute_PlanNeedsPorts(t *testing.T) {
	code, _, stderr := runCLI(t, "plan", "-t", "127.0.0.1:9", "--runs-dir", t.TempDir())
	assert.Equal(t, ExitError, code)
	assert.True(t, strings.Contains(stderr, "ports"), stderr)
}

func TestExecute_Plan(t *testing.T) {
	noMutator(t)
	a, err := testserver.Start(testserver.Options{NoTCP: true})
	require.NoError(t, err)
	defer a.Close()
	b, err := testserver.Start(testserver.Options{NoTCP: true})
	require.NoError(t, err)
	defer b.Close()

	code, out, stderr := runCLI(t, "plan",
		"-t", "127.0.0.1:1",
		"--ports", fmt.Sprintf("%d,%d", a.UDPPort(), b.UDPPort()),
		"--transport", "udp", "-d", "1", "--throttle", "50",
		"--runs-dir", t.TempDir(), "-o", "json")
	require.Equal(t, ExitSuccess, code, stderr)

	var summary struct {
		Runs []struct {
			Target string `json:"target"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	require.Len(t, summary.Runs, 2)
	assert.Positive(t, a.Received())
	assert.Positive(t, b.Received())
}
