package job

import (
	"context"

	"github.com/xxxsen/contentvec/internal/service"
)

type sourceIngester interface {
	IngestFromSource(ctx context.Context, prefix string) (*service.IngestReport, error)
}

type SourceIngestJob struct {
	ingest sourceIngester
	prefix string
}

func NewSourceIngestJob(ingest sourceIngester, prefix string) *SourceIngestJob {
	return &SourceIngestJob{ingest: ingest, prefix: prefix}
}

func (j *SourceIngestJob) Name() string {
	return "source_ingest"
}

func (j *SourceIngestJob) Run(ctx context.Context) error {
	_, err := j.ingest.IngestFromSource(ctx, j.prefix)
	return err
}
