package job

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/contentvec/internal/service"
)

type stubIndex struct {
	calls int
	err   error
}

func (s *stubIndex) EnsureIndex(ctx context.Context) (bool, error) {
	s.calls++
	return s.err == nil, s.err
}

type stubIngester struct {
	prefix string
	err    error
}

func (s *stubIngester) IngestFromSource(ctx context.Context, prefix string) (*service.IngestReport, error) {
	s.prefix = prefix
	return &service.IngestReport{}, s.err
}

func TestIndexEnsureJob(t *testing.T) {
	idx := &stubIndex{}
	j := NewIndexEnsureJob(idx)
	require.Equal(t, "index_ensure", j.Name())
	require.NoError(t, j.Run(context.Background()))
	require.Equal(t, 1, idx.calls)

	idx.err = errors.New("build failed")
	require.Error(t, j.Run(context.Background()))
}

func TestSourceIngestJob(t *testing.T) {
	ing := &stubIngester{}
	j := NewSourceIngestJob(ing, "manifests/")
	require.Equal(t, "source_ingest", j.Name())
	require.NoError(t, j.Run(context.Background()))
	require.Equal(t, "manifests/", ing.prefix)

	ing.err = errors.New("list failed")
	require.Error(t, j.Run(context.Background()))
}
