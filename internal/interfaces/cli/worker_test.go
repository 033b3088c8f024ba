package cli

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/salesledger/backend/internal/domain/shared"
	"github.com/salesledger/backend/internal/infrastructure/config"
	"github.com/salesledger/backend/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type recordingHook struct {
	mu     sync.Mutex
	ranges []shared.DateRange
}

func (h *recordingHook) AfterIngest(_ context.Context, r shared.DateRange) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ranges = append(h.ranges, r)
}

func newInbox(t *testing.T, hook *recordingHook) *inbox {
	log := zaptest.NewLogger(t)
	app := NewApp(testutil.NewSQLiteDB(t), config.Default(), log, WithSweepHook(hook))
	t.Cleanup(func() { _ = app.Close(context.Background()) })
	return &inbox{dir: t.TempDir(), svc: app.Ingestion, logger: log}
}

func TestInbox_DrainMovesHandledFiles(t *testing.T) {
	hook := &recordingHook{}
	box := newInbox(t, hook)

	writeLines(t, box.dir, "a.jsonl", postingRecord(t, "P-1", line("1", "SKU-A", "60.00")))
	require.NoError(t, os.WriteFile(filepath.Join(box.dir, "b.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(box.dir, "notes.txt"), []byte("skip me"), 0o644))

	handled, err := box.drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, handled)

	assert.FileExists(t, filepath.Join(box.dir, "done", "a.jsonl"))
	assert.FileExists(t, filepath.Join(box.dir, "failed", "b.json"))
	assert.FileExists(t, filepath.Join(box.dir, "notes.txt"))
	assert.NoFileExists(t, filepath.Join(box.dir, "a.jsonl"))

	day := time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC)
	require.Len(t, hook.ranges, 1)
	assert.Equal(t, shared.DateRange{From: day, To: day}, hook.ranges[0])

	handled, err = box.drain(context.Background())
	require.NoError(t, err)
	assert.Zero(t, handled, "subdirectories and other files are left alone")
}

func TestInbox_DrainStopsWhenCancelled(t *testing.T) {
	box := newInbox(t, &recordingHook{})
	writeLines(t, box.dir, "a.jsonl", postingRecord(t, "P-1", line("1", "SKU-A", "60.00")))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	handled, err := box.drain(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, handled)
	assert.FileExists(t, filepath.Join(box.dir, "a.jsonl"))
}

func TestInbox_MissingDirectory(t *testing.T) {
	box := newInbox(t, &recordingHook{})
	box.dir = filepath.Join(box.dir, "absent")
	_, err := box.drain(context.Background())
	assert.Error(t, err)
}

func TestIsEnvelopeFile(t *testing.T) {
	assert.True(t, isEnvelopeFile("batch.json"))
	assert.True(t, isEnvelopeFile("BATCH.JSONL"))
	assert.False(t, isEnvelopeFile("batch.json.tmp"))
	assert.False(t, isEnvelopeFile("README"))
}

func TestWorker_RejectsNonPositivePollInterval(t *testing.T) {
	h := newHarness(t)
	_, err := h.run("worker", "--inbox", t.TempDir(), "--poll-interval", "0s")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
