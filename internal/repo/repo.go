package repo

import (
	"context"
	"database/sql"

	"github.com/xxxsen/contentvec/internal/model"
)

// EmbeddingColumn is the only column that can carry a vector index.
const EmbeddingColumn = "embedding"

// Database opens and manages content tables of one backend.
type Database interface {
	Driver() string
	// OpenTable returns ErrTableNotFound when the table does not exist.
	OpenTable(ctx context.Context, name string) (ContentTable, error)
	CreateTable(ctx context.Context, name string) (ContentTable, error)
	// DropTable succeeds when the table is already absent.
	DropTable(ctx context.Context, name string) error
	Ping(ctx context.Context) error
	Close() error
}

type VectorQuery struct {
	Vector       []float32
	Limit        int
	ContentTypes []model.ContentType
}

// ContentTable is an append-only column store of content records. Rows are
// never updated in place; replacing a record is delete plus insert.
type ContentTable interface {
	Name() string
	// Insert appends all rows in one transaction.
	Insert(ctx context.Context, rows []*model.ContentRecord) error
	// GetByID returns the most recently inserted row with the id.
	GetByID(ctx context.Context, id string) (*model.ContentRecord, error)
	DeleteByID(ctx context.Context, ids ...string) (int64, error)
	// Replace deletes every row sharing an id with rows and inserts rows in
	// the same transaction. On error the stored rows are unchanged.
	Replace(ctx context.Context, rows []*model.ContentRecord) error
	CountRows(ctx context.Context) (int64, error)
	// VectorSearch returns at most q.Limit rows ordered by descending cosine
	// similarity, ties broken by insertion order.
	VectorSearch(ctx context.Context, q VectorQuery) ([]*model.ScoredRecord, error)
	ListIndices(ctx context.Context) ([]model.IndexInfo, error)
	CreateIndex(ctx context.Context, column string, replace bool) error
	// Probe checks that the stored layout matches the expected schema.
	Probe(ctx context.Context) error
}

// execQuerier is satisfied by both *sql.DB and *sql.Tx.
type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}
