package version

import (
	"runtime"
	"testing"
)

func TestSetKeepsExplicitFields(t *testing.T) {
	prev := Current()
	t.Cleanup(func() { Set(prev) })

	Set(Info{Version: "v1.2.0", Commit: "abcdef0123456", BuildTime: "2024-05-01T12:00:00Z"})
	got := Current()
	if got.Version != "v1.2.0" || got.Commit != "abcdef0123456" {
		t.Fatalf("unexpected info: %+v", got)
	}
	if got.GoVersion != runtime.Version() {
		t.Fatalf("expected go version %q, got %q", runtime.Version(), got.GoVersion)
	}

	want := "v1.2.0 (abcdef0, 2024-05-01T12:00:00Z, " + runtime.Version() + ")"
	if s := got.String(); s != want {
		t.Fatalf("expected %q, got %q", want, s)
	}
}

func TestSetDefaultsVersion(t *testing.T) {
	prev := Current()
	t.Cleanup(func() { Set(prev) })

	Set(Info{})
	if Current().Version == "" {
		t.Fatalf("expected a default version")
	}
}

func TestStringWithoutDetails(t *testing.T) {
	if s := (Info{Version: "dev"}).String(); s != "dev" {
		t.Fatalf("expected bare version, got %q", s)
	}
}
