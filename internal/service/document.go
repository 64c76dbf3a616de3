package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path"
	"time"

	"github.com/google/uuid"

	"docgate/internal/lifecycle"
	"docgate/internal/logging"
	"docgate/internal/model"
	"docgate/internal/repository"
	"docgate/internal/storage"
	"docgate/internal/validation"
	"docgate/internal/validation/filetype"
)

var (
	ErrIDRequired    = errors.New("id is required")
	ErrNotFound      = errors.New("document not found")
	ErrReaderNil     = errors.New("reader is nil")
	ErrFileRejected  = errors.New("file rejected")
	ErrThreatBlocked = errors.New("document has a recorded threat")
)

// RejectedError carries the validation outcome of a refused upload.
type RejectedError struct {
	Outcome validation.Outcome
}

func (e *RejectedError) Error() string {
	return e.Outcome.Error
}

func (e *RejectedError) Unwrap() error {
	return ErrFileRejected
}

// Threat reports whether the upload was refused by the malware scanner
// rather than by the type check.
func (e *RejectedError) Threat() bool {
	return e.Outcome.ThreatDetected()
}

// DocumentListResult is the service-level DTO for paginated documents.
type DocumentListResult struct {
	Items []model.Document `json:"data"`
	Total int              `json:"total"`
}

// UploadOptions tune a single upload.
type UploadOptions struct {
	SkipScan bool
}

// UploadResult is a stored document plus non-fatal validation notes.
type UploadResult struct {
	Document *model.Document `json:"document"`
	Warnings []string        `json:"warnings,omitempty"`
}

// NextStatesResult lists where a document may move from its current status.
type NextStatesResult struct {
	ID     string             `json:"id"`
	Status lifecycle.Status   `json:"status"`
	Next   []lifecycle.Status `json:"next"`
}

// DownloadResult is a time-limited link to a stored object.
type DownloadResult struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// DownloadExpiry is how long a presigned download link stays valid.
const DownloadExpiry = 15 * time.Minute

// DocumentService defines the use cases for handling documents.
type DocumentService interface {
	// Upload validates the content, stores it in object storage and saves
	// metadata to the DB, rolling back storage if the DB save fails.
	// The stored filename is a UUID plus the original extension.
	Upload(ctx context.Context, r io.ReaderAt, originalFilename, contentType string, size int64, opts UploadOptions) (*UploadResult, error)

	// List returns documents using limit/offset and a total count. An empty
	// status lists every document.
	List(ctx context.Context, limit, offset int, status lifecycle.Status) (*DocumentListResult, error)

	// Get returns a single document by its ID.
	Get(ctx context.Context, id string) (*model.Document, error)

	// Delete removes a document by ID from both storage and repository.
	Delete(ctx context.Context, id string) error

	// Transition moves a document to another lifecycle status on behalf of role.
	Transition(ctx context.Context, id string, to lifecycle.Status, role lifecycle.Role) (*model.Document, error)

	// NextStates reports the statuses reachable from the document's current one.
	NextStates(ctx context.Context, id string) (*NextStatesResult, error)

	// DownloadURL presigns a GET for the stored object. Documents with a
	// recorded threat are refused.
	DownloadURL(ctx context.Context, id string) (*DownloadResult, error)
}

// FileValidator is the upload gate.
type FileValidator interface {
	ValidateFile(ctx context.Context, f validation.File, opts validation.Options) validation.Outcome
}

// RescanQueue receives IDs of documents accepted with a degraded scan.
type RescanQueue interface {
	Enqueue(ctx context.Context, id string) error
}

// Option configures a documentService.
type Option func(*documentService)

// WithGuard replaces the default lifecycle guard.
func WithGuard(g *lifecycle.Guard) Option {
	return func(s *documentService) { s.guard = g }
}

// WithRescanQueue enables re-scanning of degraded uploads.
func WithRescanQueue(q RescanQueue) Option {
	return func(s *documentService) { s.rescan = q }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *documentService) { s.logger = l }
}

// documentService is a concrete implementation of DocumentService.
type documentService struct {
	store     storage.Storage
	repo      repository.DocumentRepository
	validator FileValidator
	guard     *lifecycle.Guard
	rescan    RescanQueue
	logger    *slog.Logger
}

// NewDocumentService constructs a new DocumentService.
func NewDocumentService(store storage.Storage, repo repository.DocumentRepository, validator FileValidator, opts ...Option) DocumentService {
	s := &documentService{
		store:     store,
		repo:      repo,
		validator: validator,
		guard:     lifecycle.DefaultGuard(),
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "document_service")
	return s
}

func (s *documentService) Upload(ctx context.Context, r io.ReaderAt, originalFilename, contentType string, size int64, opts UploadOptions) (*UploadResult, error) {
	if r == nil {
		return nil, ErrReaderNil
	}

	outcome := s.validator.ValidateFile(ctx, validation.File{
		Name:        originalFilename,
		ContentType: contentType,
		Content:     r,
		Size:        size,
	}, validation.Options{SkipScan: opts.SkipScan})
	if !outcome.Valid {
		s.logger.Info("upload_rejected",
			"request_id", logging.RequestID(ctx),
			"filename", originalFilename,
			"threat", outcome.ThreatDetected(),
			"reason", outcome.Error,
		)
		return nil, &RejectedError{Outcome: outcome}
	}

	detected := outcome.TypeValidation.DetectedContentType
	if detected == "" {
		detected = contentType
	}

	genName := uuid.New().String() + filetype.Extension(originalFilename)
	key := path.Join("documents", genName)

	state, provider := scanState(outcome)
	readSize, putSize := size, size
	if size <= 0 {
		readSize, putSize = math.MaxInt64, -1
	}

	objInfo, err := s.store.Put(ctx, key, io.NewSectionReader(r, 0, readSize), storage.PutObjectOptions{
		Size:        putSize,
		ContentType: detected,
		Metadata:    storage.UploadMetadata(originalFilename, detected, state, provider),
	})
	if err != nil {
		return nil, fmt.Errorf("upload to storage: %w", err)
	}

	doc := &model.Document{
		ID:           uuid.New().String(),
		Filename:     genName,
		StoragePath:  objInfo.Key,
		Size:         objInfo.Size,
		ContentType:  detected,
		Status:       lifecycle.StatusUploaded,
		ScanDegraded: outcome.ScanDegraded,
		ScanProvider: provider,
		CreatedAt:    time.Now().UTC(),
	}
	if v := outcome.ScanVerdict; v != nil && !v.ScannedAt.IsZero() {
		at := v.ScannedAt.UTC()
		doc.ScannedAt = &at
	}

	stored, err := s.repo.Create(ctx, doc)
	if err != nil {
		// Rollback: delete the object from storage
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			return nil, fmt.Errorf("db save failed: %v; rollback delete failed: %v", err, delErr)
		}
		return nil, fmt.Errorf("db save failed: %w", err)
	}

	if stored.ScanDegraded && s.rescan != nil {
		if err := s.rescan.Enqueue(ctx, stored.ID); err != nil {
			s.logger.Warn("rescan_enqueue_failed",
				"request_id", logging.RequestID(ctx),
				"document_id", stored.ID,
				"error", err.Error(),
			)
		}
	}

	return &UploadResult{Document: stored, Warnings: outcome.TypeValidation.Warnings}, nil
}

func scanState(o validation.Outcome) (state, provider string) {
	switch {
	case o.ScanVerdict == nil:
		return storage.ScanStateSkipped, ""
	case o.ScanDegraded:
		return storage.ScanStateDegraded, o.ScanVerdict.Provider
	default:
		return storage.ScanStateClean, o.ScanVerdict.Provider
	}
}

// List returns paginated documents without exposing repository types.
func (s *documentService) List(ctx context.Context, limit, offset int, status lifecycle.Status) (*DocumentListResult, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%w: %q", lifecycle.ErrUnknownStatus, status)
	}

	res, err := s.repo.List(ctx, repository.PageQuery{Limit: limit, Offset: offset, Status: status})
	if err != nil {
		return nil, err
	}
	return &DocumentListResult{Items: res.Items, Total: res.Total}, nil
}

// Get returns a document by ID.
func (s *documentService) Get(ctx context.Context, id string) (*model.Document, error) {
	if id == "" {
		return nil, ErrIDRequired
	}
	doc, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return doc, nil
}

// Delete removes a document from storage, then deletes its record.
func (s *documentService) Delete(ctx context.Context, id string) error {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	// Storage goes first so a failure keeps the row pointing at the object.
	if err := s.store.Delete(ctx, doc.StoragePath); err != nil {
		return fmt.Errorf("delete storage: %w", err)
	}
	return s.repo.Delete(ctx, id)
}

// Transition validates the move against the lifecycle guard and persists it
// only if the stored status is still the one that was validated.
func (s *documentService) Transition(ctx context.Context, id string, to lifecycle.Status, role lifecycle.Role) (*model.Document, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.guard.AssertValidTransition(doc.Status, to, role); err != nil {
		return nil, err
	}
	if to == lifecycle.StatusVerified && doc.ThreatName != "" {
		return nil, fmt.Errorf("%w: %s", ErrThreatBlocked, doc.ThreatName)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, doc.Status, to)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update status: %w", err)
	}

	s.logger.Info("document_transitioned",
		"request_id", logging.RequestID(ctx),
		"document_id", id,
		"from", string(doc.Status),
		"to", string(to),
		"role", string(role),
	)
	return updated, nil
}

// NextStates returns the current status and the statuses reachable from it.
func (s *documentService) NextStates(ctx context.Context, id string) (*NextStatesResult, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &NextStatesResult{
		ID:     doc.ID,
		Status: doc.Status,
		Next:   s.guard.ValidNextStates(doc.Status),
	}, nil
}

// DownloadURL returns a presigned link valid for DownloadExpiry.
func (s *documentService) DownloadURL(ctx context.Context, id string) (*DownloadResult, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.ThreatName != "" {
		return nil, fmt.Errorf("%w: %s", ErrThreatBlocked, doc.ThreatName)
	}

	expires := time.Now().UTC().Add(DownloadExpiry)
	u, err := s.store.PresignGet(ctx, doc.StoragePath, DownloadExpiry)
	if err != nil {
		return nil, fmt.Errorf("presign: %w", err)
	}
	return &DownloadResult{URL: u, ExpiresAt: expires}, nil
}
