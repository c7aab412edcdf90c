package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joshuapare/arenakit/arena"
	"github.com/joshuapare/arenakit/arena/dirty"
)

// resetFlags restores every global flag to its default.
func resetFlags() {
	verbose, quiet, jsonOut, logJSON = false, false, false, false
	flushModeName = "auto"

	createCapacity = "1MiB"
	createMaxRun = "4MiB"
	createKnownSize = 0
	createGrowChunk = "64KiB"
	createCreator = "arenactl-test"
	createForce = false

	allocZero = false
	freeStrict = false

	exerciseRounds = 2000
	exerciseSlots = 512
	exerciseSeed = 1
	exerciseCapacity = "4MiB"
	exerciseCheckEvery = 0
}

// newArenaFile creates an arena in a temp dir and returns its path.
func newArenaFile(t *testing.T) string {
	t.Helper()
	resetFlags()
	path := filepath.Join(t.TempDir(), "test.arena")
	quiet = true
	if err := runCreate([]string{path}); err != nil {
		t.Fatalf("create: %v", err)
	}
	quiet = false
	return path
}

// captureOutput captures stdout while running a function
func captureOutput(t *testing.T, fn func() error) (string, error) {
	t.Helper()

	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("failed to create pipe: %v", err)
	}
	os.Stdout = w

	fnErr := fn()

	w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	return buf.String(), fnErr
}

// decodeJSON unmarshals command output into v
func decodeJSON(t *testing.T, output string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(output), v); err != nil {
		t.Fatalf("invalid JSON output: %v\nOutput: %s", err, output)
	}
}

// assertContains checks that output contains all expected strings
func assertContains(t *testing.T, output string, expected []string) {
	t.Helper()
	for _, want := range expected {
		if !strings.Contains(output, want) {
			t.Errorf("output missing expected string %q\nGot: %s", want, output)
		}
	}
}

// newMemorySession returns a session over a 4 MiB in-memory arena.
func newMemorySession(t *testing.T) *session {
	t.Helper()
	a, err := arena.NewMemory(&arena.Options{Capacity: 4 << 20})
	if err != nil {
		t.Fatalf("new memory arena: %v", err)
	}
	s, err := newSession(a, dirty.FlushAuto)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	t.Cleanup(func() { _ = s.close() })
	return s
}
