package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/contentvec/internal/model"
	appErr "github.com/xxxsen/contentvec/internal/pkg/errors"
)

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestRecordService_AddValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewRecordService(newTestTable(t), nil)

	cases := []struct {
		name   string
		mutate func(r *model.ContentRecord)
	}{
		{"missing id", func(r *model.ContentRecord) { r.ID = " " }},
		{"bad content type", func(r *model.ContentRecord) { r.ContentType = "pdf" }},
		{"empty text", func(r *model.ContentRecord) { r.CombinedText = "\n" }},
		{"short embedding", func(r *model.ContentRecord) { r.Embedding = []float32{1, 2, 3} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := makeRecord("a", model.ContentTypeText, unitVector(0))
			tc.mutate(rec)
			require.True(t, appErr.IsInvalid(svc.Add(ctx, rec)))
		})
	}
	require.True(t, appErr.IsInvalid(svc.Add(ctx, nil)))
}

func TestRecordService_AddStampsAndGets(t *testing.T) {
	ctx := context.Background()
	svc := NewRecordService(newTestTable(t), nil)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = fixedClock(ts)

	rec := makeRecord("a", model.ContentTypeImage, unitVector(3))
	rec.Metadata = nil
	require.NoError(t, svc.Add(ctx, rec))
	require.True(t, rec.CreatedAt.IsZero())

	got, err := svc.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, ts, got.CreatedAt)
	require.Equal(t, ts, got.UpdatedAt)
	require.NotNil(t, got.Metadata)

	_, err = svc.Get(ctx, "missing")
	require.True(t, appErr.IsNotFound(err))
	require.NoError(t, svc.Delete(ctx, "a"))
	require.NoError(t, svc.Delete(ctx, "a"))
	_, err = svc.Get(ctx, "a")
	require.True(t, appErr.IsNotFound(err))
}

func TestRecordService_AddBatchEnsuresIndexOnce(t *testing.T) {
	ctx := context.Background()
	idx := &countingIndex{err: fmt.Errorf("%w: disk full", appErr.ErrIndex)}
	tbl := newTestTable(t)
	svc := NewRecordService(tbl, idx)

	var recs []*model.ContentRecord
	for i := 0; i < 5; i++ {
		recs = append(recs, makeRecord(fmt.Sprintf("r%d", i), model.ContentTypeText, unitVector(i)))
	}
	require.NoError(t, svc.AddBatch(ctx, recs))
	require.Equal(t, 1, idx.calls)
	n, err := tbl.CountRows(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 5, n)

	recs[2].Embedding = nil
	err = svc.AddBatch(ctx, recs)
	require.True(t, appErr.IsInvalid(err))
	require.Contains(t, err.Error(), "record 2")
	n, err = tbl.CountRows(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 5, n)
	require.Equal(t, 1, idx.calls)
}

func TestRecordService_UpdateKeepsCreatedAt(t *testing.T) {
	ctx := context.Background()
	svc := NewRecordService(newTestTable(t), nil)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = fixedClock(created)
	require.NoError(t, svc.Add(ctx, makeRecord("a", model.ContentTypeText, unitVector(0))))

	later := created.Add(time.Hour)
	svc.now = fixedClock(later)
	title := "renamed"
	got, err := svc.UpdateExclusive(ctx, "a", model.RecordPatch{Title: &title})
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Title)
	require.Equal(t, created, got.CreatedAt)
	require.Equal(t, later, got.UpdatedAt)

	stored, err := svc.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, "renamed", stored.Title)
	require.Equal(t, "text a", stored.CombinedText)

	_, err = svc.Update(ctx, "missing", model.RecordPatch{Title: &title})
	require.True(t, appErr.IsNotFound(err))
	empty := " "
	_, err = svc.Update(ctx, "a", model.RecordPatch{CombinedText: &empty})
	require.True(t, appErr.IsInvalid(err))
}

func TestRecordService_ConcurrentUpdateWithoutLockDuplicates(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t)
	seed := NewRecordService(tbl, nil)
	require.NoError(t, seed.Add(ctx, makeRecord("dup", model.ContentTypeText, unitVector(0))))

	svc := NewRecordService(&barrierTable{ContentTable: tbl, b: newBarrier(2)}, nil)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			title := fmt.Sprintf("writer %d", i)
			_, errs[i] = svc.Update(ctx, "dup", model.RecordPatch{Title: &title})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	n, err := tbl.CountRows(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestRecordService_ConcurrentUpdateExclusive(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t)
	svc := NewRecordService(tbl, nil)
	require.NoError(t, svc.Add(ctx, makeRecord("one", model.ContentTypeText, unitVector(0))))

	errs := make([]error, 8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			title := fmt.Sprintf("writer %d", i)
			_, errs[i] = svc.UpdateExclusive(ctx, "one", model.RecordPatch{Title: &title})
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	n, err := tbl.CountRows(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestRecordService_UpsertAndReplaceBatch(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t)
	idx := &countingIndex{}
	svc := NewRecordService(tbl, idx)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = fixedClock(created)

	_, err := svc.Upsert(ctx, makeRecord("u", model.ContentTypeAudio, unitVector(5)))
	require.NoError(t, err)
	svc.now = fixedClock(created.Add(time.Minute))
	next := makeRecord("u", model.ContentTypeAudio, unitVector(6))
	next.Title = "second"
	got, err := svc.Upsert(ctx, next)
	require.NoError(t, err)
	require.Equal(t, created, got.CreatedAt)

	require.NoError(t, svc.ReplaceBatch(ctx, []*model.ContentRecord{
		makeRecord("u", model.ContentTypeAudio, unitVector(7)),
		makeRecord("v", model.ContentTypeVideo, unitVector(8)),
	}))
	n, err := tbl.CountRows(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.Equal(t, 1, idx.calls)

	stored, err := svc.Get(ctx, "u")
	require.NoError(t, err)
	require.Equal(t, unitVector(7), stored.Embedding)

	_, err = svc.Upsert(ctx, &model.ContentRecord{ID: "x"})
	require.True(t, errors.Is(err, appErr.ErrInvalid))
}
