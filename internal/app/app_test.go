package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/l473n7dR34m/hotdiag/internal/config"
	"github.com/l473n7dR34m/hotdiag/internal/diagnosis"
	"github.com/l473n7dR34m/hotdiag/internal/probe"
	"github.com/l473n7dR34m/hotdiag/internal/report"
)

// throttledHost reports a busy machine running well below its rated clock.
type throttledHost struct {
	mu    sync.Mutex
	ticks int
}

func (h *throttledHost) ReadSnapshot(ctx context.Context, _ time.Time) (probe.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return probe.Snapshot{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ticks++
	return probe.Snapshot{
		Timestamp:    time.Now(),
		CPULoadPct:   95,
		ClockMHz:     1500,
		MaxClockMHz:  4000,
		RAMTotalMB:   8192,
		RAMFreeMB:    1024,
		LogicalCores: 4,
		Processes: []probe.Process{
			{ID: "42@1", PID: 42, Name: "compiler", CPUSeconds: float64(h.ticks), RSSBytes: 512 * 1024 * 1024},
		},
	}, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Interval = 10 * time.Millisecond
	cfg.Duration = 120 * time.Millisecond
	cfg.CSVPath = filepath.Join(dir, "samples.csv")
	cfg.ReportJSON = filepath.Join(dir, "report.json")
	cfg.Bell = false
	cfg.HTTP.Linger = 0
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunWritesReportAndSamples(t *testing.T) {
	cfg := testConfig(t)
	var out bytes.Buffer

	err := run(context.Background(), testLogger(), cfg, environment{
		stdout:    &out,
		source:    &throttledHost{},
		sessionID: "test-session",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	data, err := os.ReadFile(cfg.ReportJSON)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var rep report.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.Diagnosis == nil {
		t.Fatalf("expected a diagnosis")
	}
	if rep.Summary.ID != "test-session" || rep.Summary.Samples < 2 {
		t.Fatalf("unexpected summary: %+v", rep.Summary)
	}
	if !strings.Contains(strings.Join(conclusionStrings(rep), ","), "thermal-throttling") {
		t.Fatalf("expected thermal throttling, got %v", rep.Diagnosis.Conclusions)
	}

	f, err := os.Open(cfg.CSVPath)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != rep.Summary.Samples+1 {
		t.Fatalf("expected %d csv rows, got %d", rep.Summary.Samples+1, len(rows))
	}

	text := out.String()
	if !strings.Contains(text, "hotdiag session report") {
		t.Fatalf("expected printed report, got %q", text)
	}
	if !strings.Contains(text, "compiler") {
		t.Fatalf("expected per-sample lines naming the top process")
	}
}

func TestRunQuietCancelledBeforeFirstTick(t *testing.T) {
	cfg := testConfig(t)
	cfg.Quiet = true
	cfg.CSVPath = ""

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	if err := run(ctx, testLogger(), cfg, environment{stdout: &out, source: &throttledHost{}}); err != nil {
		t.Fatalf("run: %v", err)
	}

	data, err := os.ReadFile(cfg.ReportJSON)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var rep report.Report
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if rep.Diagnosis != nil {
		t.Fatalf("expected no diagnosis without samples")
	}
	if !strings.Contains(out.String(), "nothing to diagnose") {
		t.Fatalf("expected empty-session note, got %q", out.String())
	}
}

func TestRunWithHTTPAndLoad(t *testing.T) {
	cfg := testConfig(t)
	cfg.Quiet = true
	cfg.StressWorkers = 1
	cfg.HTTP.ListenAddr = "127.0.0.1:0"

	done := make(chan error, 1)
	go func() {
		done <- run(context.Background(), testLogger(), cfg, environment{stdout: io.Discard, source: &throttledHost{}})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatalf("run did not finish")
	}
}

func TestRunServesDiagnosisAfterSession(t *testing.T) {
	cfg := testConfig(t)
	cfg.Quiet = true
	cfg.HTTP.ListenAddr = freeAddr(t)
	cfg.HTTP.Linger = 10 * time.Second

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- run(ctx, testLogger(), cfg, environment{stdout: io.Discard, source: &throttledHost{}})
	}()

	url := "http://" + cfg.HTTP.ListenAddr + "/api/diagnosis"
	var res diagnosis.Result
	deadline := time.Now().Add(10 * time.Second)
	for {
		if time.Now().After(deadline) {
			t.Fatalf("diagnosis never became available at %s", url)
		}
		if fetchDiagnosis(url, &res) {
			break
		}
		select {
		case err := <-done:
			t.Fatalf("run returned before the diagnosis was served: %v", err)
		case <-time.After(20 * time.Millisecond):
		}
	}

	if len(res.Conclusions) == 0 {
		t.Fatalf("expected conclusions in served diagnosis")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not stop after cancellation")
	}
	if _, err := os.Stat(cfg.ReportJSON); err != nil {
		t.Fatalf("expected report written: %v", err)
	}
}

func TestLingerAfterSession(t *testing.T) {
	sessionDone := make(chan struct{})
	close(sessionDone)

	start := time.Now()
	lingerAfterSession(context.Background(), sessionDone, 30*time.Millisecond, testLogger())
	if time.Since(start) < 30*time.Millisecond {
		t.Fatalf("returned before the linger period elapsed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	returned := make(chan struct{})
	go func() {
		lingerAfterSession(ctx, sessionDone, time.Hour, testLogger())
		close(returned)
	}()
	cancel()
	select {
	case <-returned:
	case <-time.After(5 * time.Second):
		t.Fatalf("linger ignored cancellation")
	}

	start = time.Now()
	lingerAfterSession(context.Background(), sessionDone, 0, testLogger())
	if time.Since(start) > time.Second {
		t.Fatalf("zero linger should return immediately")
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := l.Addr().String()
	if err := l.Close(); err != nil {
		t.Fatalf("close listener: %v", err)
	}
	return addr
}

func fetchDiagnosis(url string, dst *diagnosis.Result) bool {
	resp, err := http.Get(url)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	return json.NewDecoder(resp.Body).Decode(dst) == nil
}

func conclusionStrings(rep report.Report) []string {
	out := make([]string, 0, len(rep.Diagnosis.Conclusions))
	for _, c := range rep.Diagnosis.Conclusions {
		out = append(out, string(c))
	}
	return out
}
