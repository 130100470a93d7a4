package invoker

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
)

// DetectExecutable probes conventional engine install locations for the
// current platform, newest release first, then falls back to a PATH lookup.
// Returns the empty string when nothing is found, which makes IsAvailable
// false and every render attempt fail fast with a configuration error.
func DetectExecutable() string {
	for _, candidate := range candidatePaths() {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
	}
	if found, err := exec.LookPath(engineBinaryName()); err == nil {
		return found
	}
	return ""
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "aerender.exe"
	}
	return "aerender"
}

func candidatePaths() []string {
	switch runtime.GOOS {
	case "darwin":
		return globNewestFirst("/Applications/Adobe After Effects */aerender")
	case "windows":
		return globNewestFirst(`C:\Program Files\Adobe\Adobe After Effects *\Support Files\aerender.exe`)
	default:
		return nil
	}
}

// globNewestFirst expands an install-location pattern and orders the matches
// descending, so a year-versioned install directory resolves to the newest
// release.
func globNewestFirst(pattern string) []string {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches
}
