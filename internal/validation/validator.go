// Package validation is the ingestion safety gate: it runs the type check,
// then the malware scan, and decides whether an upload may be stored.
package validation

import (
	"context"
	"io"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"docgate/internal/config"
	"docgate/internal/logging"
	"docgate/internal/validation/filetype"
	"docgate/internal/validation/scanner"
)

const threatMessage = "security threat detected: "

// File is a candidate upload. Size may be zero when unknown, in which case
// Content is read until EOF.
type File struct {
	Name        string
	ContentType string
	Content     io.ReaderAt
	Size        int64
}

// Options tune a single ValidateFile call.
type Options struct {
	SkipScan bool
	// ScannerConfig, when set, replaces the validator's scanner for this call.
	ScannerConfig *config.ScannerConfig
}

// Outcome is the combined verdict of type validation and scanning.
type Outcome struct {
	Valid          bool             `json:"valid"`
	TypeValidation filetype.Result  `json:"type_validation"`
	ScanVerdict    *scanner.Verdict `json:"scan_verdict,omitempty"`
	Error          string           `json:"error,omitempty"`
	// ScanDegraded is set when the upload was allowed although the scanner
	// could not produce a real verdict. Such uploads need a later re-scan.
	ScanDegraded   bool   `json:"scan_degraded"`
	DegradedReason string `json:"degraded_reason,omitempty"`
}

// ThreatDetected reports whether the outcome was rejected by the scanner.
func (o Outcome) ThreatDetected() bool {
	return !o.Valid && o.TypeValidation.Valid && o.ScanVerdict != nil && o.ScanVerdict.Kind == scanner.KindThreat
}

// Observer receives validation events, typically for metrics.
type Observer interface {
	ObserveScan(v scanner.Verdict, took time.Duration)
	ObserveOutcome(o Outcome)
}

type nopObserver struct{}

func (nopObserver) ObserveScan(scanner.Verdict, time.Duration) {}
func (nopObserver) ObserveOutcome(Outcome)                     {}

// Validator composes the type validator and a scanner.
// It is stateless and safe for concurrent use.
type Validator struct {
	types    *filetype.Validator
	scanner  scanner.Scanner
	logger   *slog.Logger
	observer Observer
	tracer   trace.Tracer
}

// New returns a Validator. logger and observer may be nil.
func New(types *filetype.Validator, sc scanner.Scanner, logger *slog.Logger, observer Observer) *Validator {
	if logger == nil {
		logger = logging.Discard()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Validator{
		types:    types,
		scanner:  sc,
		logger:   logger,
		observer: observer,
		tracer:   otel.Tracer("docgate/internal/validation"),
	}
}

// ValidateFile checks the file type and, unless skipped, scans the content.
// Scanner infrastructure failures never reject an upload: they are turned
// into a clean verdict with ScanDegraded set.
func (v *Validator) ValidateFile(ctx context.Context, f File, opts Options) Outcome {
	ctx, span := v.tracer.Start(ctx, "validation.ValidateFile",
		trace.WithAttributes(
			attribute.String("file.extension", filetype.Extension(f.Name)),
			attribute.String("file.claimed_type", f.ContentType),
			attribute.Int64("file.size", f.Size),
		))
	defer span.End()

	out := v.validate(ctx, f, opts)

	span.SetAttributes(
		attribute.Bool("validation.valid", out.Valid),
		attribute.Bool("validation.scan_degraded", out.ScanDegraded),
	)
	if !out.Valid {
		span.SetStatus(codes.Error, out.Error)
	}
	v.observer.ObserveOutcome(out)
	return out
}

func (v *Validator) validate(ctx context.Context, f File, opts Options) Outcome {
	typeRes := v.types.Validate(filetype.File{
		Name:        f.Name,
		ContentType: f.ContentType,
		Content:     f.Content,
	})
	if !typeRes.Valid {
		return Outcome{TypeValidation: typeRes, Error: typeRes.Error}
	}

	if opts.SkipScan {
		return Outcome{Valid: true, TypeValidation: typeRes}
	}

	data, err := readAll(f)
	if err != nil {
		v.logger.Error("validation_read_failed",
			"component", "validation",
			"filename", f.Name,
			"error", err.Error(),
		)
		return Outcome{TypeValidation: typeRes, Error: "could not read file content"}
	}

	verdict := v.scan(ctx, data, opts.ScannerConfig)

	switch verdict.Kind {
	case scanner.KindClean:
		return Outcome{Valid: true, TypeValidation: typeRes, ScanVerdict: &verdict}
	case scanner.KindDegraded:
		v.logger.Warn("scan_degraded",
			"component", "validation",
			"provider", verdict.Provider,
			"reason", verdict.Reason,
			"filename", f.Name,
		)
		allowed := scanner.Verdict{Kind: scanner.KindClean, Provider: verdict.Provider, ScannedAt: verdict.ScannedAt}
		return Outcome{
			Valid:          true,
			TypeValidation: typeRes,
			ScanVerdict:    &allowed,
			ScanDegraded:   true,
			DegradedReason: verdict.Reason,
		}
	default:
		v.logger.Warn("threat_detected",
			"component", "validation",
			"provider", verdict.Provider,
			"threat", verdict.Reason,
			"filename", f.Name,
		)
		return Outcome{
			TypeValidation: typeRes,
			ScanVerdict:    &verdict,
			Error:          threatMessage + verdict.Reason,
		}
	}
}

func (v *Validator) scan(ctx context.Context, data []byte, override *config.ScannerConfig) scanner.Verdict {
	sc := v.scanner
	provider := "default"
	if override != nil {
		provider = override.Provider
		built, err := scanner.New(*override, v.logger)
		if err != nil {
			v.logger.Error("scanner_config_invalid",
				"component", "validation",
				"provider", override.Provider,
				"error", err.Error(),
			)
			return scanner.Degraded(override.Provider, scanner.ReasonNotConfigured)
		}
		sc = built
	}
	if sc == nil {
		return scanner.Degraded(provider, scanner.ReasonNotConfigured)
	}

	ctx, span := v.tracer.Start(ctx, "scanner.Scan")
	defer span.End()

	start := time.Now()
	verdict := sc.Scan(ctx, data)
	took := time.Since(start)

	span.SetAttributes(
		attribute.String("scanner.provider", verdict.Provider),
		attribute.String("scanner.verdict", string(verdict.Kind)),
	)
	v.observer.ObserveScan(verdict, took)
	return verdict
}

func readAll(f File) ([]byte, error) {
	if f.Content == nil {
		return nil, io.ErrUnexpectedEOF
	}
	size := f.Size
	if size <= 0 {
		size = math.MaxInt64
	}
	return io.ReadAll(io.NewSectionReader(f.Content, 0, size))
}
