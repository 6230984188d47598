package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/camlearnd/internal/feedback"
	"github.com/fyrsmithlabs/camlearnd/internal/storage"
)

// setDBPath points the CLI at path for one test.
func setDBPath(t *testing.T, path string) {
	t.Helper()
	old := dbPath
	dbPath = path
	t.Cleanup(func() { dbPath = old })
}

// seedDB writes n accepted stock_setup events into the database at path.
func seedDB(t *testing.T, path string, n int) {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.Options{Path: path})
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < n; i++ {
		_, err := db.Feedback().Append(ctx, &feedback.Event{
			OperationType:     "stock_setup",
			Material:          "6061 aluminum",
			GeometryType:      "pocket-heavy",
			SuggestionPayload: json.RawMessage(`{"stock_shape":"rectangular"}`),
			FeedbackType:      feedback.FeedbackImplicitAccept,
			ConfidenceBefore:  0.8,
		})
		require.NoError(t, err)
	}
}

// countEvents reopens the database at path and counts the history.
func countEvents(t *testing.T, path string) int {
	t.Helper()
	ctx := context.Background()

	db, err := storage.Open(ctx, storage.Options{Path: path})
	require.NoError(t, err)
	defer db.Close()

	events, err := db.Feedback().List(ctx, "")
	require.NoError(t, err)
	return len(events)
}

func TestExportCommandWritesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "camlearnd.db")
	seedDB(t, path, 2)
	setDBPath(t, path)

	outFile := filepath.Join(dir, "history.json")
	oldFormat, oldOut := exportFormat, exportOutput
	exportFormat, exportOutput = "json", outFile
	t.Cleanup(func() { exportFormat, exportOutput = oldFormat, oldOut })

	require.NoError(t, runExport(exportCmd, nil))

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)

	var doc feedback.ExportDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 2, doc.EventCount)
	assert.Len(t, doc.Events, 2)
	assert.JSONEq(t, `{"stock_shape":"rectangular"}`, string(doc.Events[0].SuggestionPayload))
}

func TestExportCommandRejectsUnknownFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "camlearnd.db")
	seedDB(t, path, 1)
	setDBPath(t, path)

	oldFormat := exportFormat
	exportFormat = "xml"
	t.Cleanup(func() { exportFormat = oldFormat })

	err := runExport(exportCmd, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, feedback.ErrUnknownFormat)
}

func TestClearCommandRequiresConfirm(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "camlearnd.db")
	seedDB(t, path, 3)
	setDBPath(t, path)

	oldScope, oldConfirm := clearOperationType, clearConfirm
	clearOperationType, clearConfirm = "", false
	t.Cleanup(func() { clearOperationType, clearConfirm = oldScope, oldConfirm })

	// The dry run deletes nothing.
	require.NoError(t, runClear(clearCmd, nil))
	assert.Equal(t, 3, countEvents(t, path))

	// The confirmed run deletes everything in scope.
	clearConfirm = true
	require.NoError(t, runClear(clearCmd, nil))
	assert.Equal(t, 0, countEvents(t, path))
}

func TestPrefsSetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "camlearnd.db")
	setDBPath(t, path)

	oldMaterial, oldGeometry, oldXY := prefsSetMaterial, prefsSetGeometry, prefsSetOffsetXY
	prefsSetMaterial, prefsSetGeometry, prefsSetOffsetXY = "6061 Aluminum", "Pocket-Heavy", 8
	t.Cleanup(func() {
		prefsSetMaterial, prefsSetGeometry, prefsSetOffsetXY = oldMaterial, oldGeometry, oldXY
	})

	require.NoError(t, runPrefsSet(prefsSetCmd, nil))

	ctx := context.Background()
	db, err := storage.Open(ctx, storage.Options{Path: path})
	require.NoError(t, err)
	defer db.Close()

	// Keys were normalized and the unset sizing fields defaulted.
	got, err := db.Preferences().Get(ctx, "6061 aluminum", "pocket-heavy")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 8.0, got.OffsetXYMM, 1e-9)
	assert.InDelta(t, 2.5, got.OffsetZMM, 1e-9)
	assert.Equal(t, "rectangular", got.StockShape)
	assert.Nil(t, got.MachiningAllowanceMM)
}
