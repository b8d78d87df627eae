package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/l473n7dR34m/hotdiag/internal/diagnosis"
	"github.com/l473n7dR34m/hotdiag/internal/session"
)

func TestWriteJSONRoundTripsDiagnosis(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sum := session.Summary{ID: "s1", Start: start, End: start.Add(10 * time.Minute), Samples: 120, LowClockSamples: 30}
	res := &diagnosis.Result{
		Session:     "s1",
		Conclusions: []diagnosis.Conclusion{diagnosis.ThermalThrottling},
		Actions:     []string{"clean the fans"},
	}

	rep := New(sum, res, 5*time.Second, diagnosis.DefaultThresholds(), start.Add(10*time.Minute))
	assert.Equal(t, 10*time.Minute, rep.Duration())
	assert.Empty(t, rep.Notes)

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, WriteJSON(path, rep))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	diag, ok := decoded["diagnosis"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []any{"thermal-throttling"}, diag["conclusions"])
	summary, ok := decoded["summary"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 120, summary["samples"])

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestNewWithoutSamplesAddsNote(t *testing.T) {
	rep := New(session.Summary{ID: "s2"}, nil, time.Second, diagnosis.DefaultThresholds(), time.Now())
	assert.Nil(t, rep.Diagnosis)
	assert.Len(t, rep.Notes, 1)
	assert.Zero(t, rep.Duration())

	path := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, WriteJSON(path, rep))

	var decoded map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Nil(t, decoded["diagnosis"])
}

func TestWriteJSONErrors(t *testing.T) {
	require.Error(t, WriteJSON("", Report{}))
	require.Error(t, WriteJSON(filepath.Join(t.TempDir(), "missing", "r.json"), Report{}))
}
