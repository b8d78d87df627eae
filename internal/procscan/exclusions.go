package procscan

import (
	"os"
	"path/filepath"
	"strings"
)

// defaultExclusions lists idle and housekeeping processes that burn CPU as a
// side effect of being measured. They are never reported as top-CPU.
var defaultExclusions = []string{
	"idle",
	"system idle process",
	"system",
	"wmiprvse",
	"memcompression",
	"memory compression",
	"svchost",
	"msmpeng",
	"swapper",
	"kthreadd",
}

// normalizeName folds case and strips a trailing ".exe".
func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimSuffix(name, ".exe")
}

func buildExclusions(extra []string) map[string]struct{} {
	set := make(map[string]struct{}, len(defaultExclusions)+len(extra)+1)
	for _, name := range defaultExclusions {
		set[normalizeName(name)] = struct{}{}
	}
	if exe, err := os.Executable(); err == nil {
		set[normalizeName(filepath.Base(exe))] = struct{}{}
	}
	for _, name := range extra {
		if n := normalizeName(name); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}
