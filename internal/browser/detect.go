// Package browser locates a Chrome/Chromium binary for the renderer backends.
package browser

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// candidates are looked up on PATH in order.
var candidates = []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable", "chrome"}

var macPaths = []string{
	"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	"/Applications/Chromium.app/Contents/MacOS/Chromium",
}

// Detect returns override when it names an existing file, otherwise the
// first supported browser found on PATH (or in the macOS app bundles).
func Detect(override string) (string, error) {
	if override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("browser path %s: %w", override, err)
		}
		return override, nil
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		for _, p := range macPaths {
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}
	return "", fmt.Errorf("no supported browser found (tried %v)", candidates)
}
