package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/contentvec/internal/ai"
	"github.com/xxxsen/contentvec/internal/model"
	appErr "github.com/xxxsen/contentvec/internal/pkg/errors"
	"github.com/xxxsen/contentvec/internal/repo"
)

func openTestDB(t *testing.T) repo.Database {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestTable(t *testing.T) repo.ContentTable {
	t.Helper()
	tbl, err := NewSchemaService(openTestDB(t), SchemaConfig{Table: "content"}).EnsureTable(context.Background())
	require.NoError(t, err)
	return tbl
}

func newHashingGenerator() *ai.EmbeddingGenerator {
	e := ai.NewEmbedder(ai.NewHashingEmbedProvider(model.EmbeddingDimension), "test")
	return ai.NewEmbeddingGenerator(e, ai.GeneratorConfig{})
}

func unitVector(axis int) []float32 {
	v := make([]float32, model.EmbeddingDimension)
	v[axis] = 1
	return v
}

func makeRecord(id string, ct model.ContentType, vec []float32) *model.ContentRecord {
	return &model.ContentRecord{
		ID:           id,
		ContentType:  ct,
		Title:        "title " + id,
		CombinedText: "text " + id,
		Embedding:    vec,
		Metadata:     map[string]interface{}{"source": "test"},
	}
}

// barrier releases callers in batches of parties.
type barrier struct {
	mu      sync.Mutex
	parties int
	n       int
	ch      chan struct{}
}

func newBarrier(parties int) *barrier {
	return &barrier{parties: parties, ch: make(chan struct{})}
}

func (b *barrier) wait() {
	b.mu.Lock()
	ch := b.ch
	b.n++
	if b.n == b.parties {
		close(ch)
		b.n = 0
		b.ch = make(chan struct{})
	}
	b.mu.Unlock()
	<-ch
}

// barrierTable holds every GetByID and DeleteByID until all parties made the
// same call, which forces two writers into lockstep.
type barrierTable struct {
	repo.ContentTable
	b *barrier
}

func (t *barrierTable) GetByID(ctx context.Context, id string) (*model.ContentRecord, error) {
	rec, err := t.ContentTable.GetByID(ctx, id)
	t.b.wait()
	return rec, err
}

func (t *barrierTable) DeleteByID(ctx context.Context, ids ...string) (int64, error) {
	n, err := t.ContentTable.DeleteByID(ctx, ids...)
	t.b.wait()
	return n, err
}

// mismatchDB reports a schema mismatch for listed tables until they are
// dropped.
type mismatchDB struct {
	repo.Database
	mu       sync.Mutex
	mismatch map[string]bool
	drops    int
}

type mismatchTable struct {
	repo.ContentTable
	db *mismatchDB
}

func (t *mismatchTable) Probe(ctx context.Context) error {
	t.db.mu.Lock()
	bad := t.db.mismatch[t.Name()]
	t.db.mu.Unlock()
	if bad {
		return fmt.Errorf("%w: embedding column has wrong type", appErr.ErrSchemaMismatch)
	}
	return t.ContentTable.Probe(ctx)
}

func (d *mismatchDB) OpenTable(ctx context.Context, name string) (repo.ContentTable, error) {
	tbl, err := d.Database.OpenTable(ctx, name)
	if err != nil {
		return nil, err
	}
	return &mismatchTable{ContentTable: tbl, db: d}, nil
}

func (d *mismatchDB) DropTable(ctx context.Context, name string) error {
	d.mu.Lock()
	d.drops++
	delete(d.mismatch, name)
	d.mu.Unlock()
	return d.Database.DropTable(ctx, name)
}

// countingIndex records EnsureIndex calls and returns err.
type countingIndex struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingIndex) EnsureIndex(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err == nil, c.err
}
