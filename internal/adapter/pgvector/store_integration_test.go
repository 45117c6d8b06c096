package pgvector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalinplus/WHUCS-Qwen3/internal/testutils"
)

func TestStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	ctx := context.Background()
	db, err := Open(ctx, s.DSN)
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db, "")
	require.NoError(t, store.EnsureTable(ctx))

	recs := records()
	require.NoError(t, store.Upsert(ctx, recs))

	recs[1].Text = "b, edited"
	require.NoError(t, store.Upsert(ctx, recs))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	var content string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT content FROM document_chunks WHERE id = $1`, recs[1].ID).Scan(&content))
	assert.Equal(t, "b, edited", content)
}
