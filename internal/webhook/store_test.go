package webhook

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loomcms/gatehouse/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestCreateEndpoint(t *testing.T) {
	store := newTestStore(t)

	ep, err := store.Create(context.Background(), CreateRequest{
		WorkspaceID:      "ws-1",
		URL:              "https://example.com/hook",
		Secret:           "s3cret",
		Format:           FormatJSON,
		SubscribedEvents: []string{"post.published"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, ep.ID)
	require.True(t, ep.Enabled)
}

func TestCreateEndpointValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateRequest
	}{
		{"no workspace", CreateRequest{
			URL: "https://example.com/hook", Secret: "s", SubscribedEvents: []string{"post.published"},
		}},
		{"bad url", CreateRequest{
			WorkspaceID: "ws-1", URL: "ftp://example.com", Secret: "s", SubscribedEvents: []string{"post.published"},
		}},
		{"relative url", CreateRequest{
			WorkspaceID: "ws-1", URL: "/hook", Secret: "s", SubscribedEvents: []string{"post.published"},
		}},
		{"json without secret", CreateRequest{
			WorkspaceID: "ws-1", URL: "https://example.com/hook", Format: FormatJSON,
			SubscribedEvents: []string{"post.published"},
		}},
		{"no events", CreateRequest{
			WorkspaceID: "ws-1", URL: "https://example.com/hook", Secret: "s",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := store.Create(ctx, tc.req)
			require.Error(t, err)
		})
	}

	// Discord endpoints carry no signature, so no secret needed.
	_, err := store.Create(ctx, CreateRequest{
		WorkspaceID:      "ws-1",
		URL:              "https://discord.com/api/webhooks/1/abc",
		Format:           FormatDiscord,
		SubscribedEvents: []string{"post.published"},
	})
	require.NoError(t, err)
}

func TestFindEnabledExcludesDisabled(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.Create(ctx, CreateRequest{
		WorkspaceID: "ws-1", URL: "https://a.example.com", Secret: "s",
		SubscribedEvents: []string{"post.published"},
	})
	require.NoError(t, err)
	b, err := store.Create(ctx, CreateRequest{
		WorkspaceID: "ws-1", URL: "https://b.example.com", Secret: "s",
		SubscribedEvents: []string{"post.published"},
	})
	require.NoError(t, err)

	require.NoError(t, store.SetEnabled(ctx, b.ID, false))

	enabled, err := store.FindEnabled(ctx, "ws-1")
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	require.Equal(t, a.ID, enabled[0].ID)

	all, err := store.ListByWorkspace(ctx, "ws-1")
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestFindEnabledScopedToWorkspace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Create(ctx, CreateRequest{
		WorkspaceID: "ws-a", URL: "https://a.example.com", Secret: "s",
		SubscribedEvents: []string{"post.published"},
	})
	require.NoError(t, err)

	enabled, err := store.FindEnabled(ctx, "ws-b")
	require.NoError(t, err)
	require.Empty(t, enabled)
}

func TestSetEnabledUnknownEndpoint(t *testing.T) {
	store := newTestStore(t)
	require.ErrorIs(t, store.SetEnabled(context.Background(), "nope", true), ErrNotFound)
}
