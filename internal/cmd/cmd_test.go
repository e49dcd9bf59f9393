package cmd

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayneos/wayned/internal/session"
)

func TestParseInput(t *testing.T) {
	tests := []struct {
		line      string
		wantKind  inputKind
		wantValue string
	}{
		{"", inputEmpty, ""},
		{"   ", inputEmpty, ""},
		{"~.", inputDetach, ""},
		{":help", inputHelp, ""},
		{":?", inputHelp, ""},
		{":restart", inputControl, "restart"},
		{" :stop ", inputControl, "stop"},
		{"list my files", inputCommand, "list my files"},
		{"~ not an escape", inputCommand, "~ not an escape"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			kind, value := parseInput(tt.line)
			assert.Equal(t, tt.wantKind, kind)
			assert.Equal(t, tt.wantValue, value)
		})
	}
}

func TestFormatEvent(t *testing.T) {
	text, stderr := formatEvent(session.Output("partial"))
	assert.Equal(t, "partial", text)
	assert.False(t, stderr)

	text, stderr = formatEvent(session.Response("Done."))
	assert.Equal(t, "Done.\n", text)
	assert.False(t, stderr)

	text, stderr = formatEvent(session.Status(session.Crashed))
	assert.Equal(t, "[kernel crashed]\n", text)
	assert.False(t, stderr)

	text, stderr = formatEvent(session.Error("Traceback\n"))
	assert.Equal(t, "error: Traceback\n", text)
	assert.True(t, stderr)
}

func TestPrintSessions(t *testing.T) {
	sessions := []*session.Session{
		{ID: "open-1", Distribution: "wayneos-top", Status: "running", Commands: 3},
		{ID: "gone-1", Distribution: "wayneos", Status: session.StatusClosed},
	}

	var out bytes.Buffer
	printSessions(&out, sessions, false)
	assert.Contains(t, out.String(), "open-1")
	assert.Contains(t, out.String(), "wayneos-top")
	assert.NotContains(t, out.String(), "gone-1")

	out.Reset()
	printSessions(&out, sessions, true)
	assert.Contains(t, out.String(), "gone-1")

	out.Reset()
	printSessions(&out, nil, true)
	assert.Equal(t, "No active sessions.\n", out.String())
}

func TestPrune(t *testing.T) {
	store, err := session.NewStoreAt(filepath.Join(t.TempDir(), "sessions"))
	require.NoError(t, err)

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(&session.Session{ID: "open", Status: "running", StartedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, store.Save(&session.Session{ID: "old", Status: session.StatusClosed, StartedAt: now.Add(-48 * time.Hour)}))
	require.NoError(t, store.Save(&session.Session{ID: "recent", Status: session.StatusClosed, StartedAt: now.Add(-time.Hour)}))

	var out bytes.Buffer
	n, err := prune(&out, store, false, 24*time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, out.String(), "Removed session: old")

	n, err = prune(&out, store, false, 0, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Load("open")
	require.NoError(t, err)

	n, err = prune(&out, store, true, 0, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, left)
}
