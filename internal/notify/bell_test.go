package notify

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/l473n7dR34m/hotdiag/internal/model"
)

func TestBellRingsOncePerStreak(t *testing.T) {
	var out, logs bytes.Buffer
	b := NewBell(&out, true, slog.New(slog.NewTextHandler(&logs, nil)))

	alerts := []bool{false, true, true, true, false, false, true}
	for i, alert := range alerts {
		b.ObserveSample(model.Sample{Alert: alert, LowClock: alert, LowClockStreak: i})
	}

	if got := strings.Count(out.String(), bell); got != 2 {
		t.Fatalf("expected 2 bells, got %d", got)
	}
	if b.Raised() != 2 {
		t.Fatalf("expected 2 alerts raised, got %d", b.Raised())
	}
	if got := strings.Count(logs.String(), "sustained low clock"); got != 2 {
		t.Fatalf("expected 2 warnings, got %d", got)
	}
}

func TestSilentBellOnlyLogs(t *testing.T) {
	var out bytes.Buffer
	b := NewBell(&out, false, slog.New(slog.NewTextHandler(io.Discard, nil)))

	b.ObserveSample(model.Sample{Alert: true})
	if out.Len() != 0 {
		t.Fatalf("expected no output, got %q", out.String())
	}
	if b.Raised() != 1 {
		t.Fatalf("expected alert to be counted")
	}
}

func TestNilWriterIsSilent(t *testing.T) {
	b := NewBell(nil, true, nil)
	b.ObserveSample(model.Sample{Alert: true})
	if b.Raised() != 1 {
		t.Fatalf("expected alert to be counted")
	}
}

func TestInteractiveFalseForRegularFile(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	if Interactive(f) {
		t.Fatalf("regular file reported as terminal")
	}
	if Interactive(nil) {
		t.Fatalf("nil file reported as terminal")
	}
}
