package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/didi/gendry/builder"
	_ "modernc.org/sqlite"

	"github.com/xxxsen/contentvec/internal/model"
	appErr "github.com/xxxsen/contentvec/internal/pkg/errors"
)

const insertChunkSize = 500

var sqliteColumnTypes = map[string]string{
	"seq":           "INTEGER",
	"id":            "TEXT",
	"content_type":  "TEXT",
	"title":         "TEXT",
	"description":   "TEXT",
	"combined_text": "TEXT",
	"embedding":     "BLOB",
	"metadata":      "TEXT",
	"created_at":    "TEXT",
	"updated_at":    "TEXT",
}

type sqliteDatabase struct {
	db     *sql.DB
	mu     sync.Mutex
	tables map[string]*sqliteTable
}

// OpenSQLite opens an embedded database file. All access goes through one
// connection, which also makes ":memory:" usable.
func OpenSQLite(path string) (Database, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteDatabase{db: db, tables: map[string]*sqliteTable{}}, nil
}

func (d *sqliteDatabase) Driver() string { return "sqlite" }

func (d *sqliteDatabase) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *sqliteDatabase) Close() error {
	return d.db.Close()
}

func (d *sqliteDatabase) OpenTable(ctx context.Context, name string) (ContentTable, error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}
	var found string
	err := d.db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("table %s: %w", name, appErr.ErrTableNotFound)
	}
	if err != nil {
		return nil, err
	}
	return d.table(name), nil
}

func (d *sqliteDatabase) CreateTable(ctx context.Context, name string) (ContentTable, error) {
	if err := validateTableName(name); err != nil {
		return nil, err
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE %s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL,
			content_type TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			combined_text TEXT NOT NULL,
			embedding BLOB NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`, name),
		fmt.Sprintf("CREATE INDEX %s_id_idx ON %s (id)", name, name),
	}
	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("create table %s: %w", name, err)
		}
	}
	return d.table(name), nil
}

func (d *sqliteDatabase) DropTable(ctx context.Context, name string) error {
	if err := validateTableName(name); err != nil {
		return err
	}
	if _, err := d.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+name); err != nil {
		return fmt.Errorf("drop table %s: %w", name, err)
	}
	d.mu.Lock()
	delete(d.tables, name)
	d.mu.Unlock()
	return nil
}

// table returns the shared handle so the in-memory index is seen by every
// caller of the same table.
func (d *sqliteDatabase) table(name string) *sqliteTable {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tables[name]
	if !ok {
		t = &sqliteTable{db: d.db, name: name}
		d.tables[name] = t
	}
	return t
}

// sqliteTable stores embeddings as float32 blobs. The vector index is a
// vantage-point tree over a snapshot of rows; rows appended after the
// snapshot are scanned flat and merged into every result.
type sqliteTable struct {
	db   *sql.DB
	name string

	mu    sync.RWMutex
	index *vpTree
}

func (t *sqliteTable) Name() string { return t.name }

func (t *sqliteTable) Insert(ctx context.Context, rows []*model.ContentRecord) (err error) {
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

func (t *sqliteTable) insertRows(ctx context.Context, q execQuerier, rows []*model.ContentRecord) error {
	for start := 0; start < len(rows); start += insertChunkSize {
		end := start + insertChunkSize
		if end > len(rows) {
			end = len(rows)
		}
		data := make([]map[string]interface{}, 0, end-start)
		for _, r := range rows[start:end] {
			values, err := rowValues(r, encodeEmbedding(r.Embedding))
			if err != nil {
				return err
			}
			data = append(data, values)
		}
		sqlStr, args, err := builder.BuildInsert(t.name, data)
		if err != nil {
			return err
		}
		if _, err := q.ExecContext(ctx, sqlStr, args...); err != nil {
			return err
		}
	}
	return nil
}

func (t *sqliteTable) GetByID(ctx context.Context, id string) (*model.ContentRecord, error) {
	where := map[string]interface{}{
		"id":       id,
		"_orderby": "seq desc",
		"_limit":   []uint{0, 1},
	}
	sqlStr, args, err := builder.BuildSelect(t.name, where, contentColumns)
	if err != nil {
		return nil, err
	}
	rows, err := t.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, appErr.ErrNotFound
	}
	var row scannedRow
	var blob []byte
	if err := rows.Scan(row.dest(&blob)...); err != nil {
		return nil, err
	}
	vec, err := decodeEmbedding(blob)
	if err != nil {
		return nil, err
	}
	return row.record(vec)
}

func (t *sqliteTable) DeleteByID(ctx context.Context, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	seqs, n, err := t.deleteRows(ctx, t.db, ids)
	if err != nil {
		return 0, err
	}
	t.markDeletedLocked(seqs)
	return n, nil
}

func (t *sqliteTable) Replace(ctx context.Context, rows []*model.ContentRecord) (err error) {
	if len(rows) == 0 {
		return nil
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	seqs, _, err := t.deleteRows(ctx, tx, ids)
	if err != nil {
		return err
	}
	if err := t.insertRows(ctx, tx, rows); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	t.markDeletedLocked(seqs)
	return nil
}

// deleteRows removes every row with one of ids and returns the seqs the
// index still references. Callers hold t.mu.
func (t *sqliteTable) deleteRows(ctx context.Context, q execQuerier, ids []string) ([]int64, int64, error) {
	in := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		in = append(in, id)
	}
	var seqs []int64
	if t.index != nil {
		sqlStr, args, err := builder.BuildSelect(t.name, map[string]interface{}{"id in": in}, []string{"seq"})
		if err != nil {
			return nil, 0, err
		}
		rows, err := q.QueryContext(ctx, sqlStr, args...)
		if err != nil {
			return nil, 0, err
		}
		for rows.Next() {
			var seq int64
			if err := rows.Scan(&seq); err != nil {
				rows.Close()
				return nil, 0, err
			}
			seqs = append(seqs, seq)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, 0, err
		}
	}
	sqlStr, args, err := builder.BuildDelete(t.name, map[string]interface{}{"id in": in})
	if err != nil {
		return nil, 0, err
	}
	res, err := q.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, 0, err
	}
	return seqs, n, nil
}

func (t *sqliteTable) markDeletedLocked(seqs []int64) {
	if t.index == nil {
		return
	}
	for _, seq := range seqs {
		t.index.markDeleted(seq)
	}
}

func (t *sqliteTable) CountRows(ctx context.Context) (int64, error) {
	var n int64
	if err := t.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.name).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (t *sqliteTable) VectorSearch(ctx context.Context, q VectorQuery) ([]*model.ScoredRecord, error) {
	if len(q.Vector) != model.EmbeddingDimension {
		return nil, appErr.Invalid("vector", "has %d dimensions, want %d", len(q.Vector), model.EmbeddingDimension)
	}
	if q.Limit <= 0 {
		return nil, nil
	}
	query := newVecPoint(0, "", q.Vector)
	accept := contentTypeFilter(q.ContentTypes)

	t.mu.RLock()
	defer t.mu.RUnlock()
	var (
		indexed   []scoredSeq
		watermark int64
	)
	if t.index != nil {
		indexed = t.index.search(&query, q.Limit, accept)
		watermark = t.index.watermark
	}
	tail, err := t.scan(ctx, &query, q.Limit, watermark, q.ContentTypes)
	if err != nil {
		return nil, err
	}
	return t.fetch(ctx, mergeScored(indexed, tail, q.Limit))
}

// scan computes exact scores for every row after the watermark.
func (t *sqliteTable) scan(ctx context.Context, query *vecPoint, k int, after int64, types []model.ContentType) ([]scoredSeq, error) {
	where := map[string]interface{}{"seq >": after}
	if len(types) > 0 {
		where["content_type in"] = contentTypeArgs(types)
	}
	sqlStr, args, err := builder.BuildSelect(t.name, where, []string{"seq", "embedding"})
	if err != nil {
		return nil, err
	}
	rows, err := t.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	h := &candidateHeap{}
	for rows.Next() {
		var (
			seq  int64
			blob []byte
		)
		if err := rows.Scan(&seq, &blob); err != nil {
			return nil, err
		}
		vec, err := decodeEmbedding(blob)
		if err != nil {
			return nil, err
		}
		p := newVecPoint(seq, "", vec)
		sim := similarity(query, &p)
		h.offer(candidate{seq: seq, dist: math.Acos(sim), score: sim}, k)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return h.sorted(), nil
}

func (t *sqliteTable) fetch(ctx context.Context, hits []scoredSeq) ([]*model.ScoredRecord, error) {
	if len(hits) == 0 {
		return []*model.ScoredRecord{}, nil
	}
	in := make([]interface{}, 0, len(hits))
	for _, h := range hits {
		in = append(in, h.seq)
	}
	sqlStr, args, err := builder.BuildSelect(t.name, map[string]interface{}{"seq in": in}, append([]string{"seq"}, contentColumns...))
	if err != nil {
		return nil, err
	}
	rows, err := t.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	bySeq := make(map[int64]*model.ContentRecord, len(hits))
	for rows.Next() {
		var (
			seq  int64
			row  scannedRow
			blob []byte
		)
		if err := rows.Scan(append([]interface{}{&seq}, row.dest(&blob)...)...); err != nil {
			return nil, err
		}
		vec, err := decodeEmbedding(blob)
		if err != nil {
			return nil, err
		}
		rec, err := row.record(vec)
		if err != nil {
			return nil, err
		}
		bySeq[seq] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]*model.ScoredRecord, 0, len(hits))
	for _, h := range hits {
		rec, ok := bySeq[h.seq]
		if !ok {
			continue
		}
		out = append(out, &model.ScoredRecord{ContentRecord: *rec, Score: h.score})
	}
	return out, nil
}

func (t *sqliteTable) ListIndices(ctx context.Context) ([]model.IndexInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.index == nil {
		return []model.IndexInfo{}, nil
	}
	return []model.IndexInfo{{
		Name:    t.name + "_embedding_vptree",
		Column:  EmbeddingColumn,
		Kind:    "vptree",
		RowSpan: int64(t.index.size()),
	}}, nil
}

// CreateIndex snapshots every row and builds the tree. Writers and readers
// wait for the build so no delete is lost between snapshot and swap.
func (t *sqliteTable) CreateIndex(ctx context.Context, column string, replace bool) error {
	if column != EmbeddingColumn {
		return appErr.Invalid("column", "%q cannot be vector indexed", column)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.index != nil && !replace {
		return fmt.Errorf("index on %s.%s already exists: %w", t.name, column, appErr.ErrIndex)
	}
	rows, err := t.db.QueryContext(ctx, fmt.Sprintf("SELECT seq, content_type, embedding FROM %s ORDER BY seq", t.name))
	if err != nil {
		return err
	}
	defer rows.Close()
	var points []vecPoint
	for rows.Next() {
		var (
			seq         int64
			contentType string
			blob        []byte
		)
		if err := rows.Scan(&seq, &contentType, &blob); err != nil {
			return err
		}
		vec, err := decodeEmbedding(blob)
		if err != nil {
			return err
		}
		points = append(points, newVecPoint(seq, model.ContentType(contentType), vec))
	}
	if err := rows.Err(); err != nil {
		return err
	}
	t.index = buildVPTree(points)
	return nil
}

func (t *sqliteTable) Probe(ctx context.Context) error {
	rows, err := t.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", t.name))
	if err != nil {
		return err
	}
	found := map[string]string{}
	for rows.Next() {
		var (
			cid       int
			name      string
			colType   string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			rows.Close()
			return err
		}
		found[name] = strings.ToUpper(colType)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for col, want := range sqliteColumnTypes {
		got, ok := found[col]
		if !ok {
			return fmt.Errorf("column %s missing: %w", col, appErr.ErrSchemaMismatch)
		}
		if got != want {
			return fmt.Errorf("column %s has type %s, want %s: %w", col, got, want, appErr.ErrSchemaMismatch)
		}
	}
	var bad int64
	err = t.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE length(embedding) != ?", t.name),
		model.EmbeddingDimension*4,
	).Scan(&bad)
	if err != nil {
		return err
	}
	if bad > 0 {
		return fmt.Errorf("%d rows with embedding length other than %d: %w", bad, model.EmbeddingDimension, appErr.ErrSchemaMismatch)
	}
	if _, err := t.VectorSearch(ctx, VectorQuery{Vector: probeVector(), Limit: 1}); err != nil {
		return fmt.Errorf("probe search: %v: %w", err, appErr.ErrSchemaMismatch)
	}
	return nil
}

func contentTypeFilter(types []model.ContentType) func(*vecPoint) bool {
	if len(types) == 0 {
		return func(*vecPoint) bool { return true }
	}
	allowed := make(map[model.ContentType]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return func(p *vecPoint) bool {
		_, ok := allowed[p.contentType]
		return ok
	}
}
