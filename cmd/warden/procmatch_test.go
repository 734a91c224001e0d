package main

import (
	"regexp"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMatchProcessesFindsCurrentProcess(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("requires /proc")
	}

	re := regexp.MustCompile(".*")
	matches, err := matchProcesses(re)
	require.NoError(t, err)
	require.NotEmpty(t, matches)
}

func TestMatchProcessesPatternExcludesEverything(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("requires /proc")
	}

	re := regexp.MustCompile(`^this-will-never-match-anything-xyz$`)
	matches, err := matchProcesses(re)
	require.NoError(t, err)
	require.Empty(t, matches)
}
