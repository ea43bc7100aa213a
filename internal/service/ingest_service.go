package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/xxxsen/contentvec/internal/ai"
	"github.com/xxxsen/contentvec/internal/filestore"
	"github.com/xxxsen/contentvec/internal/ingest"
	"github.com/xxxsen/contentvec/internal/model"
	"github.com/xxxsen/contentvec/internal/normalize"
	appErr "github.com/xxxsen/contentvec/internal/pkg/errors"
	"github.com/xxxsen/contentvec/internal/source"
)

type documentEmbedder interface {
	Generate(ctx context.Context, text string) ([]float32, error)
}

type IngestConfig struct {
	Concurrency  int
	GroupDelay   time.Duration
	SourcePrefix string
	ReportPrefix string
}

type IngestFailure struct {
	ID    string      `json:"id,omitempty"`
	Stage ingest.Stage `json:"stage"`
	Kind  string      `json:"kind,omitempty"`
	Error string      `json:"error"`
}

// IngestReport summarizes one ingestion run. Total counts unique descriptors,
// and SuccessCount+ErrorCount == Total.
type IngestReport struct {
	Source       string          `json:"source,omitempty"`
	Total        int             `json:"total"`
	SuccessCount int             `json:"success_count"`
	ErrorCount   int             `json:"error_count"`
	Duplicates   int             `json:"duplicates"`
	DecodeErrors int             `json:"decode_errors"`
	Aborted      bool            `json:"aborted"`
	Failures     []IngestFailure `json:"failures,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
}

type IngestService struct {
	records *RecordService
	gen     documentEmbedder
	store   filestore.Store
	cfg     IngestConfig
	now     func() time.Time
}

func NewIngestService(records *RecordService, gen documentEmbedder, store filestore.Store, cfg IngestConfig) *IngestService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = ingest.DefaultConcurrency
	}
	if cfg.ReportPrefix == "" {
		cfg.ReportPrefix = "reports"
	}
	return &IngestService{records: records, gen: gen, store: store, cfg: cfg, now: time.Now}
}

// prepare runs the per-item pipeline up to the embedded stage.
func (s *IngestService) prepare(ctx context.Context, desc model.Descriptor) (*model.ContentRecord, error) {
	res, err := normalize.Normalize(desc)
	if err != nil {
		return nil, &ingest.StageError{Stage: ingest.StageNormalized, Err: err}
	}
	vec, err := s.gen.Generate(ctx, res.CombinedText)
	if err != nil {
		return nil, &ingest.StageError{Stage: ingest.StageEmbedded, Err: err}
	}
	return &model.ContentRecord{
		ID:           res.ID,
		ContentType:  res.ContentType,
		Title:        res.Title,
		Description:  res.Description,
		CombinedText: res.CombinedText,
		Embedding:    vec,
		Metadata:     res.Metadata,
	}, nil
}

// IngestOne normalizes, embeds and upserts a single descriptor.
func (s *IngestService) IngestOne(ctx context.Context, desc model.Descriptor) (*model.ContentRecord, error) {
	rec, err := s.prepare(ctx, desc)
	if err != nil {
		return nil, err
	}
	return s.records.Upsert(ctx, rec)
}

func (s *IngestService) IngestPayloads(ctx context.Context, payloads []*model.ContentPayload) (*IngestReport, error) {
	descs := make([]model.Descriptor, 0, len(payloads))
	for _, p := range payloads {
		descs = append(descs, p)
	}
	return s.IngestDescriptors(ctx, descs)
}

// IngestDescriptors processes descs in bounded groups and writes every
// prepared record with one batch replace. When an id repeats only its last
// occurrence is ingested. The returned error is set when the run aborted
// on a fatal provider error or the batch write failed; the report is
// always returned.
func (s *IngestService) IngestDescriptors(ctx context.Context, descs []model.Descriptor) (*IngestReport, error) {
	ctx, span := tracer.Start(ctx, "IngestService.IngestDescriptors")
	defer span.End()

	report := &IngestReport{StartedAt: s.now().UTC()}
	items, dups := dedupeDescriptors(descs)
	report.Total = len(items)
	report.Duplicates = dups
	span.SetAttributes(attribute.Int("ingest.items", len(items)), attribute.Int("ingest.duplicates", dups))

	sum := ingest.ProcessInParallel(ctx, items, func(ctx context.Context, _ int, d model.Descriptor) (*model.ContentRecord, error) {
		return s.prepare(ctx, d)
	}, ingest.Options{
		Name:        "ingest",
		Concurrency: s.cfg.Concurrency,
		GroupDelay:  s.cfg.GroupDelay,
		AbortOn:     ai.IsFatal,
	})

	prepared := make([]*model.ContentRecord, 0, sum.SuccessCount)
	for _, r := range sum.Results {
		if r.Err == nil {
			prepared = append(prepared, r.Value)
			continue
		}
		report.Failures = append(report.Failures, failureOf(descriptorID(items[r.Index]), r.Err))
	}
	report.SuccessCount = len(prepared)
	report.ErrorCount = len(report.Failures)
	report.Aborted = sum.Aborted()

	var runErr error
	if len(prepared) > 0 {
		if err := s.records.ReplaceBatch(ctx, prepared); err != nil {
			logutil.GetLogger(ctx).Error("batch write failed", zap.Int("records", len(prepared)), zap.Error(err))
			for _, rec := range prepared {
				report.Failures = append(report.Failures, failureOf(rec.ID, &ingest.StageError{Stage: ingest.StageStored, Err: err}))
			}
			report.ErrorCount += len(prepared)
			report.SuccessCount = 0
			runErr = err
		}
	}
	if runErr == nil && sum.Aborted() {
		runErr = fmt.Errorf("ingestion aborted: %w", sum.AbortErr)
	}
	report.FinishedAt = s.now().UTC()
	logutil.GetLogger(ctx).Info("ingestion finished",
		zap.Int("total", report.Total),
		zap.Int("success", report.SuccessCount),
		zap.Int("errors", report.ErrorCount),
		zap.Int("duplicates", report.Duplicates),
		zap.Bool("aborted", report.Aborted),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
	}
	return report, runErr
}

// IngestFromSource ingests every manifest under prefix in the file store and
// saves the run report next to the others.
func (s *IngestService) IngestFromSource(ctx context.Context, prefix string) (*IngestReport, error) {
	if s.store == nil {
		return nil, appErr.Invalid("file_store", "is not configured")
	}
	if prefix == "" {
		prefix = s.cfg.SourcePrefix
	}
	logger := logutil.GetLogger(ctx).With(zap.String("prefix", prefix), zap.String("store", s.store.Type()))
	keys, err := s.store.List(ctx, prefix)
	if err != nil {
		logger.Error("list manifests failed", zap.Error(err))
		return nil, err
	}
	var (
		descs     []model.Descriptor
		lineErrs  []*source.LineError
		manifests int
	)
	for _, key := range keys {
		if !isManifest(key) || strings.HasPrefix(key, s.cfg.ReportPrefix+"/") {
			continue
		}
		m, err := s.readManifest(ctx, key)
		if err != nil {
			logger.Error("read manifest failed", zap.String("key", key), zap.Error(err))
			return nil, err
		}
		manifests++
		descs = append(descs, m.Descriptors...)
		lineErrs = append(lineErrs, m.Errors...)
	}
	logger.Info("manifests loaded", zap.Int("manifests", manifests),
		zap.Int("descriptors", len(descs)), zap.Int("bad_lines", len(lineErrs)))

	report, runErr := s.IngestDescriptors(ctx, descs)
	report.Source = prefix
	report.DecodeErrors = len(lineErrs)
	for _, le := range lineErrs {
		report.Failures = append(report.Failures, IngestFailure{Stage: ingest.StageDecoded, Error: le.Error()})
	}
	if err := s.saveReport(ctx, report); err != nil {
		logger.Error("save ingest report failed", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	return report, runErr
}

func (s *IngestService) readManifest(ctx context.Context, key string) (*source.Manifest, error) {
	rc, err := s.store.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return source.DecodeManifest(key, rc)
}

func (s *IngestService) saveReport(ctx context.Context, report *IngestReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	key := path.Join(s.cfg.ReportPrefix, fmt.Sprintf("ingest-%s.json", report.StartedAt.Format("20060102T150405.000000000Z")))
	return s.store.Save(ctx, key, bytes.NewReader(data), int64(len(data)))
}

func isManifest(key string) bool {
	return strings.HasSuffix(key, ".jsonl") || strings.HasSuffix(key, ".ndjson")
}

// dedupeDescriptors keeps the last occurrence of every id, in the order of
// those last occurrences. Descriptors without an id are all kept so that
// each one fails validation on its own.
func dedupeDescriptors(descs []model.Descriptor) ([]model.Descriptor, int) {
	last := make(map[string]int, len(descs))
	for i, d := range descs {
		if id := strings.TrimSpace(descriptorID(d)); id != "" {
			last[id] = i
		}
	}
	out := make([]model.Descriptor, 0, len(descs))
	for i, d := range descs {
		id := strings.TrimSpace(descriptorID(d))
		if id == "" || last[id] == i {
			out = append(out, d)
		}
	}
	return out, len(descs) - len(out)
}

func descriptorID(d model.Descriptor) string {
	if d == nil {
		return ""
	}
	return d.DescriptorID()
}

func failureOf(id string, err error) IngestFailure {
	f := IngestFailure{ID: id, Stage: ingest.StageOf(err), Error: err.Error()}
	if ai.IsProviderError(err) {
		f.Kind = ai.KindOf(err).String()
	}
	return f
}
