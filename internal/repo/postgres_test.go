package repo

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/contentvec/internal/config"
	"github.com/xxxsen/contentvec/internal/model"
	appErr "github.com/xxxsen/contentvec/internal/pkg/errors"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func openTestPostgres(t *testing.T) Database {
	t.Helper()
	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		t.Skip("TEST_DB_HOST not set, skipping postgres test")
	}
	db, err := Open(config.DatabaseConfig{
		Driver:   "postgres",
		Host:     host,
		Port:     5432,
		User:     envOr("TEST_DB_USER", "contentvec"),
		Password: envOr("TEST_DB_PASSWORD", "contentvec_pass"),
		DBName:   envOr("TEST_DB_NAME", "contentvec_test"),
		SSLMode:  "disable",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestPostgresTable_Lifecycle(t *testing.T) {
	db := openTestPostgres(t)
	ctx := context.Background()
	name := fmt.Sprintf("content_test_%d", rand.Int63())
	_, err := db.OpenTable(ctx, name)
	require.True(t, errors.Is(err, appErr.ErrTableNotFound))

	tbl, err := db.CreateTable(ctx, name)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.DropTable(context.Background(), name) })
	require.NoError(t, tbl.Probe(ctx))

	r := rand.New(rand.NewSource(7))
	var rows []*model.ContentRecord
	for i := 0; i < 20; i++ {
		ct := model.ContentTypeText
		if i%2 == 1 {
			ct = model.ContentTypeImage
		}
		rows = append(rows, testRecord(fmt.Sprintf("doc-%d", i), ct, randomVector(r)))
	}
	require.NoError(t, tbl.Insert(ctx, rows))

	got, err := tbl.GetByID(ctx, "doc-3")
	require.NoError(t, err)
	require.Equal(t, rows[3].CreatedAt, got.CreatedAt)
	require.Len(t, got.Embedding, model.EmbeddingDimension)

	res, err := tbl.VectorSearch(ctx, VectorQuery{Vector: rows[4].Embedding, Limit: 3})
	require.NoError(t, err)
	require.Equal(t, "doc-4", res[0].ID)
	require.Equal(t, bruteForce(rows, rows[4].Embedding, 3, nil), ids(res))

	filtered, err := tbl.VectorSearch(ctx, VectorQuery{
		Vector:       rows[4].Embedding,
		Limit:        3,
		ContentTypes: []model.ContentType{model.ContentTypeImage},
	})
	require.NoError(t, err)
	for _, rec := range filtered {
		require.Equal(t, model.ContentTypeImage, rec.ContentType)
	}

	indices, err := tbl.ListIndices(ctx)
	require.NoError(t, err)
	require.Empty(t, indices)
	require.NoError(t, tbl.CreateIndex(ctx, EmbeddingColumn, true))
	indices, err = tbl.ListIndices(ctx)
	require.NoError(t, err)
	require.Len(t, indices, 1)
	require.Equal(t, "ivfflat", indices[0].Kind)

	n, err := tbl.DeleteByID(ctx, "doc-1", "doc-2")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	count, err := tbl.CountRows(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 18, count)
	bad := testRecord("doc-3", model.ContentTypeText, rows[5].Embedding)
	bad.Metadata = map[string]interface{}{"ch": make(chan int)}
	require.Error(t, tbl.Replace(ctx, []*model.ContentRecord{bad}))
	got, err = tbl.GetByID(ctx, "doc-3")
	require.NoError(t, err)
	require.Equal(t, rows[3].Embedding, got.Embedding)

	require.NoError(t, tbl.Replace(ctx, []*model.ContentRecord{testRecord("doc-3", model.ContentTypeText, rows[5].Embedding)}))
	count, err = tbl.CountRows(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 18, count)
}
