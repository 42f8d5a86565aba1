package chromium

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// pidfileRecord is the on-disk hint describing the last launched browser.
// It is never trusted on its own: readers must validate the PID against
// actual process liveness first.
type pidfileRecord struct {
	PID             int    `json:"pid"`
	ProfileDir      string `json:"profile_dir"`
	ControlEndpoint string `json:"control_endpoint"`
}

func writePidfile(path string, rec pidfileRecord) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating pidfile directory for %q", path)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encoding pidfile record")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, "writing pidfile %q", path)
	}
	return nil
}

func readPidfile(path string) (pidfileRecord, error) {
	var rec pidfileRecord
	if path == "" {
		return rec, os.ErrNotExist
	}
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, errors.Wrapf(err, "decoding pidfile %q", path)
	}
	if rec.PID <= 0 {
		return rec, errors.Errorf("pidfile %q has no usable pid", path)
	}
	return rec, nil
}

func removePidfile(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing pidfile %q", path)
	}
	return nil
}
