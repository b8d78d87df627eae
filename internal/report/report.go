// Package report assembles the end-of-session report and writes it as JSON.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/l473n7dR34m/hotdiag/internal/diagnosis"
	"github.com/l473n7dR34m/hotdiag/internal/session"
	"github.com/l473n7dR34m/hotdiag/internal/version"
)

// Report is everything known about a finished session. Diagnosis is nil when
// the session produced no samples.
type Report struct {
	Version     version.Info         `json:"version"`
	GeneratedAt time.Time            `json:"generated_at"`
	Interval    time.Duration        `json:"interval_ns"`
	Thresholds  diagnosis.Thresholds `json:"thresholds"`
	Summary     session.Summary      `json:"summary"`
	Diagnosis   *diagnosis.Result    `json:"diagnosis"`
	Notes       []string             `json:"notes,omitempty"`
}

// New builds a report stamped with the current build metadata.
func New(sum session.Summary, res *diagnosis.Result, interval time.Duration, thresholds diagnosis.Thresholds, now time.Time) Report {
	r := Report{
		Version:     version.Current(),
		GeneratedAt: now.UTC(),
		Interval:    interval,
		Thresholds:  thresholds,
		Summary:     sum,
		Diagnosis:   res,
	}
	if res == nil {
		r.Notes = append(r.Notes, "session ended without samples, nothing to diagnose")
	}
	return r
}

// Duration is the wall time the session covered.
func (r Report) Duration() time.Duration {
	if r.Summary.End.IsZero() || r.Summary.Start.IsZero() {
		return 0
	}
	return r.Summary.End.Sub(r.Summary.Start)
}

// WriteJSON writes the report to path through a temporary file in the same
// directory, so readers never observe a partial report.
func WriteJSON(path string, r Report) (err error) {
	if path == "" {
		return errors.New("report path is empty")
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), ".hotdiag-report-*")
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod report: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename report: %w", err)
	}
	return nil
}
