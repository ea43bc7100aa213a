package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/contentvec/internal/ai"
	"github.com/xxxsen/contentvec/internal/model"
	appErr "github.com/xxxsen/contentvec/internal/pkg/errors"
)

type failingQueryEmbedder struct {
	err error
}

func (f *failingQueryEmbedder) GenerateQuery(ctx context.Context, text string) ([]float32, error) {
	return nil, f.err
}

func TestSearchService_TextQueryAfterBulkIngest(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t)
	gen := newHashingGenerator()
	index := NewIndexService(tbl, 256)
	records := NewRecordService(tbl, index)

	var recs []*model.ContentRecord
	for i := 0; i < 300; i++ {
		text := fmt.Sprintf("doc-%d token", i)
		vec, err := gen.Generate(ctx, text)
		require.NoError(t, err)
		recs = append(recs, &model.ContentRecord{
			ID:           fmt.Sprintf("doc-%d", i),
			ContentType:  model.ContentTypeText,
			CombinedText: text,
			Embedding:    vec,
		})
	}
	require.NoError(t, records.AddBatch(ctx, recs))
	st, err := index.Status(ctx)
	require.NoError(t, err)
	require.True(t, st.HasIndex)
	require.EqualValues(t, 300, st.RowCount)

	search := NewSearchService(tbl, gen, SearchConfig{})
	res, err := search.Search(ctx, SearchRequest{Query: "doc-17 token", Limit: 5})
	require.NoError(t, err)
	require.Len(t, res, 5)
	require.Equal(t, "doc-17", res[0].ID)
	require.InDelta(t, 1.0, res[0].Score, 1e-4)
	for i := 1; i < len(res); i++ {
		require.GreaterOrEqual(t, res[i-1].Score, res[i].Score)
	}
	require.Empty(t, res[0].Metadata)
}

func TestSearchService_FiltersLimitsAndThreshold(t *testing.T) {
	ctx := context.Background()
	tbl := newTestTable(t)
	records := NewRecordService(tbl, nil)
	near := unitVector(0)
	near[1] = 0.1
	require.NoError(t, records.AddBatch(ctx, []*model.ContentRecord{
		makeRecord("img", model.ContentTypeImage, unitVector(0)),
		makeRecord("vid", model.ContentTypeVideo, near),
		makeRecord("far", model.ContentTypeVideo, unitVector(9)),
	}))
	search := NewSearchService(tbl, &failingQueryEmbedder{}, SearchConfig{DefaultLimit: 2, MaxLimit: 2})

	res, err := search.Search(ctx, SearchRequest{Vector: unitVector(0)})
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, "img", res[0].ID)

	res, err = search.Search(ctx, SearchRequest{Vector: unitVector(0), Limit: 50})
	require.NoError(t, err)
	require.Len(t, res, 2)

	res, err = search.Search(ctx, SearchRequest{
		Vector:       unitVector(0),
		ContentTypes: []model.ContentType{model.ContentTypeVideo},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"vid", "far"}, []string{res[0].ID, res[1].ID})

	threshold := 0.5
	res, err = search.Search(ctx, SearchRequest{
		Vector:       unitVector(0),
		ContentTypes: []model.ContentType{model.ContentTypeVideo},
		Threshold:    &threshold,
	})
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.Equal(t, "vid", res[0].ID)
}

func TestSearchService_Validation(t *testing.T) {
	ctx := context.Background()
	quota := &ai.ProviderError{Kind: ai.KindQuotaExceeded, Err: errors.New("insufficient_quota")}
	search := NewSearchService(newTestTable(t), &failingQueryEmbedder{err: quota}, SearchConfig{})

	_, err := search.Search(ctx, SearchRequest{Query: "  "})
	require.True(t, appErr.IsInvalid(err))
	_, err = search.Search(ctx, SearchRequest{Vector: []float32{1}})
	require.True(t, appErr.IsInvalid(err))
	_, err = search.Search(ctx, SearchRequest{Query: "x", ContentTypes: []model.ContentType{"pdf"}})
	require.True(t, appErr.IsInvalid(err))
	bad := 2.0
	_, err = search.Search(ctx, SearchRequest{Query: "x", Threshold: &bad})
	require.True(t, appErr.IsInvalid(err))

	_, err = search.Search(ctx, SearchRequest{Query: "sunset"})
	require.True(t, ai.IsFatal(err))

	res, err := search.Search(ctx, SearchRequest{Vector: unitVector(2)})
	require.NoError(t, err)
	require.Empty(t, res)
}

func TestSearchService_LimitDefaults(t *testing.T) {
	s := NewSearchService(nil, nil, SearchConfig{DefaultLimit: 500, MaxLimit: 0})
	require.Equal(t, DefaultMaxSearchLimit, s.clampLimit(0))
	require.Equal(t, 7, s.clampLimit(7))
	require.Equal(t, DefaultMaxSearchLimit, s.clampLimit(1000))
}
