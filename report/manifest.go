package report

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// Manifest is the machine-readable record of a run, written next to
// combined.csv.
type Manifest struct {
	ID          string          `yaml:"id"`
	Label       string          `yaml:"label"`
	Message     string          `yaml:"message"`
	Subject     string          `yaml:"subject,omitempty"`
	Started     time.Time       `yaml:"started"`
	Finished    time.Time       `yaml:"finished"`
	Status      Status          `yaml:"status"`
	Error       string          `yaml:"error,omitempty"`
	Links       []string        `yaml:"links"`
	Dropped     []string        `yaml:"dropped,omitempty"`
	Downloads   []DownloadEntry `yaml:"downloads"`
	Aggregation *Aggregation    `yaml:"aggregation,omitempty"`
}

type DownloadEntry struct {
	URL        string   `yaml:"url"`
	Success    bool     `yaml:"success"`
	File       string   `yaml:"file,omitempty"`
	Attempts   int      `yaml:"attempts"`
	StatusCode int      `yaml:"status_code,omitempty"`
	Bytes      int64    `yaml:"bytes,omitempty"`
	Delays     []string `yaml:"delays,omitempty"`
	Error      string   `yaml:"error,omitempty"`
}

type Aggregation struct {
	Output  string   `yaml:"output"`
	Files   int      `yaml:"files"`
	Skipped []string `yaml:"skipped,omitempty"`
	Rows    int      `yaml:"rows"`
	Columns []string `yaml:"columns"`
}

// WriteManifest stores m as manifest.yaml in the run directory.
func (r *Run) WriteManifest(m Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(r.ManifestPath, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// ReadManifest loads a manifest written by WriteManifest.
func ReadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("decode manifest: %w", err)
	}
	return m, nil
}
