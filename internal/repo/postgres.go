package repo

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/didi/gendry/builder"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.nhat.io/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"

	"github.com/xxxsen/contentvec/internal/model"
	"github.com/xxxsen/contentvec/internal/pkg/dbutil"
	appErr "github.com/xxxsen/contentvec/internal/pkg/errors"
)

var (
	pgDriverOnce sync.Once
	pgDriverName string
	pgDriverErr  error
)

var postgresColumnTypes = map[string]string{
	"seq":           "bigint",
	"id":            "text",
	"content_type":  "text",
	"title":         "text",
	"description":   "text",
	"combined_text": "text",
	"embedding":     fmt.Sprintf("vector(%d)", model.EmbeddingDimension),
	"metadata":      "text",
	"created_at":    "text",
	"updated_at":    "text",
}

func tracedPostgresDriver() (string, error) {
	pgDriverOnce.Do(func() {
		pgDriverName, pgDriverErr = otelsql.Register(
			"postgres",
			otelsql.TraceQueryWithoutArgs(),
			otelsql.TraceRowsClose(),
			otelsql.TraceRowsAffected(),
			otelsql.WithSystem(semconv.DBSystemPostgreSQL),
		)
	})
	return pgDriverName, pgDriverErr
}

type postgresDatabase struct {
	db *sql.DB
}

// OpenPostgres connects through the traced driver and makes sure the
// pgvector extension is installed.
func OpenPostgres(dsn string) (Database, error) {
	driver, err := tracedPostgresDriver()
	if err != nil {
		return nil, fmt.Errorf("register traced postgres driver: %w", err)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := otelsql.RecordStats(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("record postgres stats: %w", err)
	}
	if _, err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable pgvector: %w", err)
	}
	return &postgresDatabase{db: db}, nil
}

func (d *postgresDatabase) Driver() string { return "postgres" }

func (d *postgresDatabase) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *postgresDatabase) Close() error {
	return d.db.Close()
}

func (d *postgresDatabase) OpenTable(ctx context.Context, name string) (ContentTable, error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}
	var reg sql.NullString
	if err := d.db.QueryRowContext(ctx, "SELECT to_regclass($1)::text", name).Scan(&reg); err != nil {
		return nil, err
	}
	if !reg.Valid {
		return nil, fmt.Errorf("table %s: %w", name, appErr.ErrTableNotFound)
	}
	return &postgresTable{db: d.db, name: name}, nil
}

func (d *postgresDatabase) CreateTable(ctx context.Context, name string) (ContentTable, error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE %s (
			seq BIGSERIAL PRIMARY KEY,
			id TEXT NOT NULL,
			content_type TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			combined_text TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`, name, model.EmbeddingDimension),
		fmt.Sprintf("CREATE INDEX %s_id_idx ON %s (id)", name, name),
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create table %s: %w", name, err)
		}
	}
	return &postgresTable{db: d.db, name: name}, nil
}

func (d *postgresDatabase) DropTable(ctx context.Context, name string) error {
	if err := validateTableName(name); err != nil {
		return err
	}
	if _, err := d.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		return fmt.Errorf("drop table %s: %w", name, err)
	}
	return nil
}

// postgresTable keeps embeddings in a pgvector column and indexes them with
// ivfflat over cosine distance.
type postgresTable struct {
	db   *sql.DB
	name string
}

func (t *postgresTable) Name() string { return t.name }

func (t *postgresTable) indexName() string {
	return t.name + "_embedding_idx"
}

func (t *postgresTable) Insert(ctx context.Context, rows []*model.ContentRecord) (err error) {
	if len(rows) == 0 {
		return nil
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err := t.insertRows(ctx, tx, rows); err != nil {
		return err
	}
	return tx.Commit()
}

func (t *postgresTable) insertRows(ctx context.Context, q execQuerier, rows []*model.ContentRecord) error {
	for start := 0; start < len(rows); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		data := make([]map[string]interface{}, 0, end-start)
		for _, r := range rows[start:end] {
			values, err := rowValues(r, pgvector.NewVector(r.Embedding))
			if err != nil {
				return err
			}
			data = append(data, values)
		}
		sqlStr, args, err := builder.BuildInsert(t.name, data)
		if err != nil {
			return err
		}
		sqlStr, args = dbutil.Finalize(sqlStr, args)
		if _, err := q.ExecContext(ctx, sqlStr, args...); err != nil {
			return t.wrap(err)
		}
	}
	return nil
}

func (t *postgresTable) GetByID(ctx context.Context, id string) (*model.ContentRecord, error) {
	where := map[string]interface{}{
		"id":       id,
		"_orderby": "seq desc",
		"_limit":   []uint{0, 1},
	}
	sqlStr, args, err := builder.BuildSelect(t.name, where, contentColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := t.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, t.wrap(err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, appErr.ErrNotFound
	}
	var row scannedRow
	var vec pgvector.Vector
	if err := rows.Scan(row.dest(&vec)...); err != nil {
		return nil, err
	}
	return row.record(vec.Slice())
}

func (t *postgresTable) DeleteByID(ctx context.Context, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return t.deleteRows(ctx, t.db, ids)
}

func (t *postgresTable) Replace(ctx context.Context, rows []*model.ContentRecord) (err error) {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := t.deleteRows(ctx, tx, ids); err != nil {
		return err
	}
	if err := t.insertRows(ctx, tx, rows); err != nil {
		return err
	}
	return tx.Commit()
}

func (t *postgresTable) deleteRows(ctx context.Context, q execQuerier, ids []string) (int64, error) {
	in := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		in = append(in, id)
	}
	sqlStr, args, err := builder.BuildDelete(t.name, map[string]interface{}{"id in": in})
	if err != nil {
		return 0, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := q.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, t.wrap(err)
	}
	return res.RowsAffected()
}

func (t *postgresTable) CountRows(ctx context.Context) (int64, error) {
	var n int64
	if err := t.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.name).Scan(&n); err != nil {
		return 0, t.wrap(err)
	}
	return n, nil
}

func (t *postgresTable) VectorSearch(ctx context.Context, q VectorQuery) ([]*model.ScoredRecord, error) {
	if len(q.Vector) != model.EmbeddingDimension {
		return nil, appErr.Invalid("vector", "has %d dimensions, want %d", len(q.Vector), model.EmbeddingDimension)
	}
	if q.Limit <= 0 {
		return nil, nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s, 1 - (embedding <=> $1) AS score FROM %s", strings.Join(contentColumns, ", "), t.name)
	args := []interface{}{pgvector.NewVector(q.Vector)}
	if len(q.ContentTypes) > 0 {
		types := make([]string, 0, len(q.ContentTypes))
		for _, ct := range q.ContentTypes {
			types = append(types, string(ct))
		}
		sb.WriteString(" WHERE content_type = ANY($2)")
		args = append(args, pq.Array(types))
	}
	fmt.Fprintf(&sb, " ORDER BY embedding <=> $1, seq LIMIT %d", q.Limit)

	rows, err := t.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, t.wrap(err)
	}
	defer rows.Close()
	out := make([]*model.ScoredRecord, 0, q.Limit)
	for rows.Next() {
		var (
			row   scannedRow
			vec   pgvector.Vector
			score sql.NullFloat64
		)
		if err := rows.Scan(append(row.dest(&vec), &score)...); err != nil {
			return nil, err
		}
		rec, err := row.record(vec.Slice())
		if err != nil {
			return nil, err
		}
		out = append(out, &model.ScoredRecord{ContentRecord: *rec, Score: score.Float64})
	}
	return out, rows.Err()
}

func (t *postgresTable) ListIndices(ctx context.Context) ([]model.IndexInfo, error) {
	rows, err := t.db.QueryContext(ctx,
		"SELECT indexname, indexdef FROM pg_indexes WHERE schemaname = current_schema() AND tablename = $1",
		t.name,
	)
	if err != nil {
		return nil, t.wrap(err)
	}
	defer rows.Close()
	out := []model.IndexInfo{}
	for rows.Next() {
		var name, def string
		if err := rows.Scan(&name, &def); err != nil {
			return nil, err
		}
		lower := strings.ToLower(def)
		for _, kind := range []string{"ivfflat", "hnsw"} {
			if strings.Contains(lower, "using "+kind) {
				out = append(out, model.IndexInfo{Name: name, Column: EmbeddingColumn, Kind: kind})
				break
			}
		}
	}
	return out, rows.Err()
}

func (t *postgresTable) CreateIndex(ctx context.Context, column string, replace bool) error {
	if column != EmbeddingColumn {
		return appErr.Invalid("column", "%q cannot be vector indexed", column)
	}
	existing, err := t.ListIndices(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 && !replace {
		return fmt.Errorf("index on %s.%s already exists: %w", t.name, column, appErr.ErrIndex)
	}
	for _, idx := range existing {
		if _, err := t.db.ExecContext(ctx, "DROP INDEX IF EXISTS "+idx.Name); err != nil {
			return t.wrap(err)
		}
	}
	n, err := t.CountRows(ctx)
	if err != nil {
		return err
	}
	lists := int(math.Sqrt(float64(n)))
	if lists < 1 {
		lists = 1
	}
	stmt := fmt.Sprintf("CREATE INDEX %s ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = %d)",
		t.indexName(), t.name, lists)
	if _, err := t.db.ExecContext(ctx, stmt); err != nil {
		return t.wrap(err)
	}
	return nil
}

func (t *postgresTable) Probe(ctx context.Context) error {
	rows, err := t.db.QueryContext(ctx, `
		SELECT a.attname, format_type(a.atttypid, a.atttypmod)
		FROM pg_attribute a
		WHERE a.attrelid = $1::regclass AND a.attnum > 0 AND NOT a.attisdropped`, t.name)
	if err != nil {
		return t.wrap(err)
	}
	found := map[string]string{}
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			rows.Close()
			return err
		}
		found[name] = typ
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for col, want := range postgresColumnTypes {
		got, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s missing: %w", col, appErr.ErrSchemaMismatch)
		}
		if got != want {
			return fmt.Errorf("column %s has type %s, want %s: %w", col, got, want, appErr.ErrSchemaMismatch)
		}
	}
	if _, err := t.VectorSearch(ctx, VectorQuery{Vector: probeVector(), Limit: 1}); err != nil {
		return fmt.Errorf("probe search: %v: %w", err, appErr.ErrSchemaMismatch)
	}
	return nil
}

func (t *postgresTable) wrap(err error) error {
	if dbutil.IsUndefinedTable(err) {
		return fmt.Errorf("table %s: %w", t.name, appErr.ErrTableNotFound)
	}
	return err
}

// probeVector is a unit vector; a zero vector has no cosine distance in
// pgvector.
func probeVector() []float32 {
	v := make([]float32, model.EmbeddingDimension)
	v[0] = 1
	return v
}
