package ui

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	testRunDir     string
	testRunDirOnce sync.Once
	testRunDirErr  error
)

// resultsDir returns the directory for this run's screenshots, creating it if
// necessary. TEST_RESULTS_DIR overrides the default test/results/run-<timestamp>.
func resultsDir() (string, error) {
	testRunDirOnce.Do(func() {
		if envDir := os.Getenv("TEST_RESULTS_DIR"); envDir != "" {
			testRunDir = envDir
		} else {
			testRunDir = filepath.Join("..", "results", time.Now().Format("run-2006-01-02-15-04-05"))
		}
		if err := os.MkdirAll(testRunDir, 0755); err != nil {
			testRunDirErr = fmt.Errorf("failed to create test run directory: %w", err)
		}
	})
	return testRunDir, testRunDirErr
}
