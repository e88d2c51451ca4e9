package usage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomcms/gatehouse/internal/storage"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRecorder(db)
}

func TestAppendAndRecent(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()

	require.NoError(t, rec.Append(ctx, TypeAPIRequest, "ws-1", map[string]any{"path": "/v1/events"}))
	require.NoError(t, rec.Append(ctx, TypeWebhookDelivery, "ws-1", map[string]any{"endpoint_id": "e1", "ok": true}))
	require.NoError(t, rec.Append(ctx, TypeAPIRequest, "ws-2", nil))

	all, err := rec.Recent(ctx, "ws-1", "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)

	deliveries, err := rec.Recent(ctx, "ws-1", TypeWebhookDelivery, 10)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.Equal(t, "e1", deliveries[0].Meta["endpoint_id"])
	require.Equal(t, true, deliveries[0].Meta["ok"])
}

func TestAppendValidation(t *testing.T) {
	rec := newTestRecorder(t)
	require.Error(t, rec.Append(context.Background(), "", "ws-1", nil))
	require.Error(t, rec.Append(context.Background(), TypeAPIRequest, "", nil))
}

func TestAppendWithoutMeta(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()

	require.NoError(t, rec.Append(ctx, TypeMediaUpload, "ws-1", nil))

	got, err := rec.Recent(ctx, "ws-1", TypeMediaUpload, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Nil(t, got[0].Meta)
}
