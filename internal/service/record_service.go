package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/contentvec/internal/model"
	appErr "github.com/xxxsen/contentvec/internal/pkg/errors"
	"github.com/xxxsen/contentvec/internal/pkg/keylock"
	"github.com/xxxsen/contentvec/internal/repo"
)

type indexEnsurer interface {
	EnsureIndex(ctx context.Context) (bool, error)
}

// RecordService is the only writer of the content table. The table has no
// in-place update, so every replacement is a delete followed by an insert.
type RecordService struct {
	table repo.ContentTable
	index indexEnsurer
	locks *keylock.KeyLock
	now   func() time.Time
}

func NewRecordService(table repo.ContentTable, index indexEnsurer) *RecordService {
	return &RecordService{table: table, index: index, locks: keylock.New(), now: time.Now}
}

func validateRecord(rec *model.ContentRecord) error {
	if rec == nil {
		return appErr.Invalid("record", "is nil")
	}
	if strings.TrimSpace(rec.ID) == "" {
		return appErr.Invalid("id", "is required")
	}
	if !rec.ContentType.Valid() {
		return appErr.Invalid("content_type", "unsupported value %q", rec.ContentType)
	}
	if strings.TrimSpace(rec.CombinedText) == "" {
		return appErr.Invalid("combined_text", "must not be empty")
	}
	if len(rec.Embedding) != model.EmbeddingDimension {
		return appErr.Invalid("embedding", "has %d dimensions, want %d", len(rec.Embedding), model.EmbeddingDimension)
	}
	return nil
}

// prepare validates and stamps a copy of rec.
func (s *RecordService) prepare(rec *model.ContentRecord, now time.Time) (*model.ContentRecord, error) {
	if err := validateRecord(rec); err != nil {
		return nil, err
	}
	out := rec.Clone()
	if out.Metadata == nil {
		out.Metadata = map[string]interface{}{}
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.UpdatedAt = now
	return out, nil
}

func (s *RecordService) Add(ctx context.Context, rec *model.ContentRecord) error {
	row, err := s.prepare(rec, s.now().UTC())
	if err != nil {
		return err
	}
	return s.table.Insert(ctx, []*model.ContentRecord{row})
}

// AddBatch writes all records in one bulk insert, then gives the index a
// chance to build. Index failures are logged and left to the next call.
func (s *RecordService) AddBatch(ctx context.Context, recs []*model.ContentRecord) error {
	return s.writeBatch(ctx, recs, s.table.Insert)
}

func (s *RecordService) writeBatch(ctx context.Context, recs []*model.ContentRecord,
	write func(context.Context, []*model.ContentRecord) error) error {
	if len(recs) == 0 {
		return nil
	}
	now := s.now().UTC()
	rows := make([]*model.ContentRecord, 0, len(recs))
	for i, rec := range recs {
		row, err := s.prepare(rec, now)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		rows = append(rows, row)
	}
	if err := write(ctx, rows); err != nil {
		return err
	}
	if s.index == nil {
		return nil
	}
	if _, err := s.index.EnsureIndex(ctx); err != nil {
		logutil.GetLogger(ctx).Error("ensure index after batch insert failed",
			zap.Int("rows", len(rows)), zap.Error(err))
	}
	return nil
}

func (s *RecordService) Get(ctx context.Context, id string) (*model.ContentRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, appErr.Invalid("id", "is required")
	}
	return s.table.GetByID(ctx, id)
}

// Delete removes every row with the id. Deleting a missing id succeeds.
func (s *RecordService) Delete(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return appErr.Invalid("id", "is required")
	}
	unlock := s.locks.Lock(id)
	defer unlock()
	_, err := s.table.DeleteByID(ctx, id)
	return err
}

// Update replaces the record through get, merge, delete and add. The steps
// are not atomic: a concurrent writer of the same id may leave two rows or
// none in between. Use UpdateExclusive unless the caller serializes writes.
func (s *RecordService) Update(ctx context.Context, id string, patch model.RecordPatch) (*model.ContentRecord, error) {
	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	next := patch.Apply(cur)
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	row, err := s.prepare(next, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if _, err := s.table.DeleteByID(ctx, id); err != nil {
		return nil, err
	}
	if err := s.table.Insert(ctx, []*model.ContentRecord{row}); err != nil {
		return nil, err
	}
	return row, nil
}

// UpdateExclusive is Update with writes to the same id serialized.
func (s *RecordService) UpdateExclusive(ctx context.Context, id string, patch model.RecordPatch) (*model.ContentRecord, error) {
	unlock := s.locks.Lock(id)
	defer unlock()
	return s.Update(ctx, id, patch)
}

// Upsert replaces any stored record with the same id, keeping its creation
// time.
func (s *RecordService) Upsert(ctx context.Context, rec *model.ContentRecord) (*model.ContentRecord, error) {
	if err := validateRecord(rec); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(rec.ID)
	defer unlock()
	next := rec.Clone()
	cur, err := s.table.GetByID(ctx, rec.ID)
	switch {
	case err == nil:
		next.CreatedAt = cur.CreatedAt
	case appErr.IsNotFound(err):
	default:
		return nil, err
	}
	row, err := s.prepare(next, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.table.Replace(ctx, []*model.ContentRecord{row}); err != nil {
		return nil, err
	}
	return row, nil
}

// ReplaceBatch swaps in recs for their ids under the per-id locks. The old
// rows are deleted and the new ones inserted in one transaction, so a failed
// write leaves the previous versions in place.
func (s *RecordService) ReplaceBatch(ctx context.Context, recs []*model.ContentRecord) error {
	if len(recs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(recs))
	for i, rec := range recs {
		if err := validateRecord(rec); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		ids = append(ids, rec.ID)
	}
	unlock := s.locks.LockAll(ids)
	defer unlock()
	return s.writeBatch(ctx, recs, s.table.Replace)
}
