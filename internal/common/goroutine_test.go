package common

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func TestSafeGo_RecoversPanic(t *testing.T) {
	done := make(chan struct{})
	SafeGo(arbor.NewLogger(), "test", func() {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestWriteCrashFile(t *testing.T) {
	dir := t.TempDir()
	previous := CrashLogDir
	CrashLogDir = filepath.Join(dir, "logs")
	defer func() { CrashLogDir = previous }()

	path := WriteCrashFile("boom", GetStackTrace())
	require.NotEmpty(t, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	report := string(data)
	assert.True(t, strings.HasPrefix(report, "=== COHORTPROBE CRASH REPORT ==="))
	assert.Contains(t, report, "=== PANIC VALUE ===\nboom")
	assert.Contains(t, report, "TestWriteCrashFile")
}
