package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cycle-scheduler/internal/models"
)

const yamlWorkbook = `accounts:
  - id: acc-1
    status: active
    credential_ref: vault:acc-1
  - id: acc-2
    status: Inactive
work_items:
  - id: w1
    account_id: acc-1
    scheduled_at: "2026-03-01 09:30"
    status: approved
    payload:
      text: hello
  - id: w2
    account_id: acc-2
    scheduled_at: "2026-03-01T10:00:00Z"
    status: approved
  - id: w3
    account_id: acc-1
    scheduled_at: "next tuesday"
    status: draft
`

func writeWorkbook(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestFileStoreLoadYAML(t *testing.T) {
	path := writeWorkbook(t, "book.yaml", yamlWorkbook)
	st := NewFileStore(path, time.UTC)

	snap, err := st.Load(context.Background())
	require.NoError(t, err)

	require.Len(t, snap.Accounts, 2)
	assert.Equal(t, models.AccountInactive, snap.Accounts[1].Status)
	assert.Equal(t, "vault:acc-1", snap.Accounts[0].CredentialRef)

	require.Len(t, snap.WorkItems, 3)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC), snap.WorkItems[0].ScheduledAt)
	assert.Equal(t, "hello", snap.WorkItems[0].Payload["text"])
	assert.True(t, snap.WorkItems[2].ScheduledAt.IsZero())
}

func TestFileStoreMissingIsNotFound(t *testing.T) {
	st := NewFileStore(filepath.Join(t.TempDir(), "absent.yaml"), time.UTC)
	_, err := st.Load(context.Background())
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestFileStoreSavePersistsMutations(t *testing.T) {
	path := writeWorkbook(t, "book.yaml", yamlWorkbook)
	st := NewFileStore(path, time.UTC)
	ctx := context.Background()

	snap, err := st.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, snap.MarkFailed("w1", "actor said no"))
	require.NoError(t, st.Save(ctx, snap))
	assert.False(t, snap.HasChanges())

	reloaded, err := st.Load(ctx)
	require.NoError(t, err)
	w1, ok := reloaded.WorkItem("w1")
	require.True(t, ok)
	assert.Equal(t, models.StatusFailed, w1.Status)
	assert.Equal(t, "actor said no", w1.ErrorDetail)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "next tuesday", "unparseable schedules are written back verbatim")

	matches, _ := filepath.Glob(path + ".tmp-*")
	assert.Empty(t, matches)
}

func TestFileStoreJSONByExtension(t *testing.T) {
	path := writeWorkbook(t, "book.json", `{"accounts":[{"id":"a","status":"active"}],"work_items":[{"id":"w","account_id":"a","scheduled_at":"2026-01-01T00:00:00Z","status":"approved"}]}`)
	st := NewFileStore(path, time.UTC)
	ctx := context.Background()

	snap, err := st.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, snap.MarkPublished("w"))
	require.NoError(t, st.Save(ctx, snap))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"status": "published"`)
}

func TestFileStoreSaveBusyWhileLocked(t *testing.T) {
	path := writeWorkbook(t, "book.yaml", yamlWorkbook)
	st := NewFileStore(path, time.UTC)
	ctx := context.Background()

	other := flock.New(path + ".lock")
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	snap, err := st.Load(ctx)
	require.NoError(t, err)
	require.NoError(t, snap.MarkPublished("w1"))

	err = st.Save(ctx, snap)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBusy))
	assert.True(t, snap.HasChanges())

	require.NoError(t, other.Unlock())
	require.NoError(t, st.Save(ctx, snap))
}

func TestParseScheduledAt(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)

	got, err := ParseScheduledAt("2026-03-01 09:30", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC), got.UTC())

	got, err = ParseScheduledAt("2026-03-01T09:30:00Z", loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC), got.UTC())

	_, err = ParseScheduledAt("", loc)
	assert.Error(t, err)
	_, err = ParseScheduledAt("01/03/2026", loc)
	assert.Error(t, err)
}
