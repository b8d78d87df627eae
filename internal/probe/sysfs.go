package probe

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	cpuDevicesPath      = "devices/system/cpu"
	curFreqFilename     = "cpufreq/scaling_cur_freq"
	maxFreqFilename     = "cpufreq/cpuinfo_max_freq"
	coreThrottleFile    = "thermal_throttle/core_throttle_count"
	packageThrottleFile = "thermal_throttle/package_throttle_count"
	packageIDFile       = "topology/physical_package_id"
)

// readSysfsClocks averages the current frequency over all CPUs and takes the
// highest rated maximum. Values are reported by the kernel in kHz.
func readSysfsClocks(sysfsRoot string) (curMHz float64, curOK bool, maxMHz float64, maxOK bool) {
	cpus := cpuDirs(sysfsRoot)

	var sum float64
	var n int
	for _, dir := range cpus {
		if khz, err := readFloatFile(filepath.Join(dir, curFreqFilename)); err == nil && khz > 0 {
			sum += khz
			n++
		}
		if khz, err := readFloatFile(filepath.Join(dir, maxFreqFilename)); err == nil && khz/1000 > maxMHz {
			maxMHz = khz / 1000
			maxOK = true
		}
	}
	if n > 0 {
		curMHz = sum / float64(n) / 1000
		curOK = true
	}
	return curMHz, curOK, maxMHz, maxOK
}

// readThrottleCount sums the per-core throttle counters and adds the package
// counter once per physical package.
func readThrottleCount(sysfsRoot string) (int64, bool) {
	var total int64
	var found bool
	packages := make(map[string]struct{})

	for _, dir := range cpuDirs(sysfsRoot) {
		if v, err := readIntFile(filepath.Join(dir, coreThrottleFile)); err == nil {
			total += v
			found = true
		}

		pkg := "0"
		if raw, err := os.ReadFile(filepath.Join(dir, packageIDFile)); err == nil {
			pkg = strings.TrimSpace(string(raw))
		}
		if _, seen := packages[pkg]; seen {
			continue
		}
		if v, err := readIntFile(filepath.Join(dir, packageThrottleFile)); err == nil {
			packages[pkg] = struct{}{}
			total += v
			found = true
		}
	}
	return total, found
}

func cpuDirs(sysfsRoot string) []string {
	matches, _ := filepath.Glob(filepath.Join(sysfsRoot, cpuDevicesPath, "cpu[0-9]*"))
	return matches
}

func readFloatFile(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	valueStr := strings.TrimSpace(string(data))
	if valueStr == "" {
		return 0, fmt.Errorf("empty value")
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return value, nil
}

func readIntFile(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse int: %w", err)
	}
	return value, nil
}
