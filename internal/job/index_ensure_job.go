package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type indexEnsurer interface {
	EnsureIndex(ctx context.Context) (bool, error)
}

// IndexEnsureJob retries the vector index build. Ingestion triggers the
// build too, but a failed or skipped build is only picked up here.
type IndexEnsureJob struct {
	index indexEnsurer
}

func NewIndexEnsureJob(index indexEnsurer) *IndexEnsureJob {
	return &IndexEnsureJob{index: index}
}

func (j *IndexEnsureJob) Name() string {
	return "index_ensure"
}

func (j *IndexEnsureJob) Run(ctx context.Context) error {
	ok, err := j.index.EnsureIndex(ctx)
	if err != nil {
		return err
	}
	logutil.GetLogger(ctx).Debug("index ensured", zap.Bool("indexed", ok))
	return nil
}
