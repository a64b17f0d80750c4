package run

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"faultline/internal/capture"
	"faultline/internal/config"

	"github.com/google/uuid"
)

// CaptureInfo describes a capture file found on disk.
type CaptureInfo struct {
	RunID     string    `json:"run_id"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Modified  time.Time `json:"modified"`
	Target    string    `json:"target,omitempty"`
	Engine    string    `json:"engine,omitempty"`
	Transport string    `json:"transport,omitempty"`
}

// ListCaptures returns the capture files under the runs directory, newest
// first. Directories that are not run ids are skipped. A run whose
// config.json is missing or unreadable is listed without target details.
func (m *Manager) ListCaptures() ([]CaptureInfo, error) {
	return ListCaptures(m.runsDir)
}

// ListCaptures scans runsDir. A missing directory yields an empty list.
func ListCaptures(runsDir string) ([]CaptureInfo, error) {
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading runs directory: %w", err)
	}

	var out []CaptureInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		path := capture.Path(runsDir, id)
		info, err := os.Stat(path)
		if err != nil {
			continue
		}

		c := CaptureInfo{RunID: id, Path: path, Size: info.Size(), Modified: info.ModTime()}
		if cfg, err := readRunConfig(filepath.Join(runsDir, id, "config.json")); err == nil {
			c.Target = cfg.Addr()
			c.Engine = string(cfg.Engine)
			c.Transport = cfg.Transport
		}
		out = append(out, c)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Modified.Equal(out[j].Modified) {
			return out[i].Modified.After(out[j].Modified)
		}
		return out[i].RunID < out[j].RunID
	})
	return out, nil
}

func readRunConfig(path string) (config.RunConfig, error) {
	var cfg config.RunConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("decoding %s: %w", path, err)
	}
	return cfg, nil
}
