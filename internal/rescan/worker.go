package rescan

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"docgate/internal/logging"
	"docgate/internal/model"
	"docgate/internal/repository"
	"docgate/internal/storage"
	"docgate/internal/validation/scanner"
)

// Result is what happened to one queued document.
type Result string

const (
	ResultClean    Result = "clean"
	ResultThreat   Result = "threat"
	ResultDegraded Result = "degraded"
	ResultSkipped  Result = "skipped"
	// ResultDropped means the document can never be re-scanned.
	ResultDropped Result = "dropped"
)

// DefaultMaxAttempts bounds how often an ID that fails with an error is
// requeued. Degraded verdicts do not count against it.
const DefaultMaxAttempts = 5

// IDQueue is the part of Queue the worker needs.
type IDQueue interface {
	Enqueue(ctx context.Context, id string) error
	Dequeue(ctx context.Context, wait time.Duration) (string, error)
}

// Worker drains the rescan queue.
type Worker struct {
	queue    IDQueue
	repo     repository.DocumentRepository
	store    storage.Storage
	scanner  scanner.Scanner
	logger   *slog.Logger
	interval time.Duration
	tracer   trace.Tracer
	now      func() time.Time

	maxAttempts int
	// failures counts consecutive errors per ID. Only Run touches it.
	failures map[string]int
}

// NewWorker builds a worker. interval is both the blocking wait on an empty
// queue and the pause after a scan that is still degraded.
func NewWorker(q IDQueue, repo repository.DocumentRepository, store storage.Storage, sc scanner.Scanner, logger *slog.Logger, interval time.Duration) *Worker {
	if logger == nil {
		logger = logging.Discard()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{
		queue:    q,
		repo:     repo,
		store:    store,
		scanner:  sc,
		logger:   logger.With("component", "rescan"),
		interval: interval,
		tracer:   otel.Tracer("docgate/internal/rescan"),
		now:      func() time.Time { return time.Now().UTC() },

		maxAttempts: DefaultMaxAttempts,
		failures:    make(map[string]int),
	}
}

// Run processes queued IDs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("rescan_worker_started", "interval", w.interval.String())
	defer w.logger.Info("rescan_worker_stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		id, err := w.queue.Dequeue(ctx, w.interval)
		if errors.Is(err, ErrEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("rescan_dequeue_failed", "error", err.Error())
			if !sleep(ctx, w.interval) {
				return nil
			}
			continue
		}

		res, err := w.Process(ctx, id)
		if err != nil {
			w.failures[id]++
			n := w.failures[id]
			if n >= w.maxAttempts {
				delete(w.failures, id)
				w.logger.Error("rescan_dropped",
					"document_id", id,
					"attempts", n,
					"error", err.Error(),
				)
				continue
			}
			w.logger.Error("rescan_failed", "document_id", id, "attempt", n, "error", err.Error())
		} else {
			delete(w.failures, id)
			if res != ResultDegraded {
				continue
			}
		}

		// Scanner still unavailable or a transient failure. Put the ID back and back off.
		if err := w.queue.Enqueue(context.WithoutCancel(ctx), id); err != nil {
			w.logger.Error("rescan_requeue_failed", "document_id", id, "error", err.Error())
		}
		if !sleep(ctx, w.interval) {
			return nil
		}
	}
}

// Process re-scans a single document and records the verdict.
// A missing or already rescanned document is skipped; a record whose object
// is gone is dropped.
func (w *Worker) Process(ctx context.Context, id string) (Result, error) {
	ctx, span := w.tracer.Start(ctx, "rescan.Process", trace.WithAttributes(attribute.String("document.id", id)))
	defer span.End()

	doc, err := w.repo.FindByID(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		w.logger.Info("rescan_skipped", "document_id", id, "reason", "not_found")
		return ResultSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("load document: %w", err)
	}
	if !doc.ScanDegraded {
		w.logger.Info("rescan_skipped", "document_id", id, "reason", "not_degraded")
		return ResultSkipped, nil
	}

	data, meta, err := w.fetch(ctx, doc.StoragePath)
	if errors.Is(err, storage.ErrObjectNotFound) {
		w.logger.Error("rescan_dropped",
			"document_id", id,
			"reason", "object_missing",
			"storage_path", doc.StoragePath,
		)
		return ResultDropped, nil
	}
	if err != nil {
		return "", err
	}

	verdict := w.scanner.Scan(ctx, data)
	span.SetAttributes(attribute.String("scanner.verdict", string(verdict.Kind)))

	rec := model.ScanRecord{Provider: verdict.Provider, ScannedAt: w.now()}
	var (
		res   Result
		state string
	)
	switch verdict.Kind {
	case scanner.KindDegraded:
		w.logger.Warn("rescan_still_degraded",
			"document_id", id,
			"provider", verdict.Provider,
			"reason", verdict.Reason,
		)
		return ResultDegraded, nil
	case scanner.KindThreat:
		rec.ThreatName = verdict.ThreatName()
		res, state = ResultThreat, storage.ScanStateThreat
		w.logger.Warn("rescan_threat_detected",
			"document_id", id,
			"provider", verdict.Provider,
			"threat", rec.ThreatName,
		)
	default:
		res, state = ResultClean, storage.ScanStateClean
		w.logger.Info("rescan_clean", "document_id", id, "provider", verdict.Provider)
	}

	if err := w.repo.UpdateScan(ctx, id, rec); err != nil {
		return "", fmt.Errorf("record scan: %w", err)
	}
	if err := w.store.UpdateMetadata(ctx, doc.StoragePath, storage.WithScanState(meta, state, verdict.Provider)); err != nil {
		// The database row is authoritative.
		w.logger.Warn("rescan_metadata_update_failed", "document_id", id, "error", err.Error())
	}
	return res, nil
}

func (w *Worker) fetch(ctx context.Context, key string) ([]byte, map[string]string, error) {
	rc, info, err := w.store.Get(ctx, key)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch object: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, fmt.Errorf("read object: %w", err)
	}
	return data, info.Metadata, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
