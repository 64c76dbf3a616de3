package postgres

import (
	"context"
	"database/sql"
	"errors"

	"docgate/internal/lifecycle"
	"docgate/internal/model"
	"docgate/internal/repository"
)

// DocumentPostgres is a PostgreSQL implementation of repository.DocumentRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type DocumentPostgres struct {
	db *sql.DB
}

// NewDocumentPostgres creates a new DocumentPostgres repository.
func NewDocumentPostgres(db *sql.DB) *DocumentPostgres {
	return &DocumentPostgres{db: db}
}

var _ repository.DocumentRepository = (*DocumentPostgres)(nil)

const documentColumns = `id, filename, storage_path, size, content_type, status,
		scan_degraded, scan_provider, threat_name, scanned_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var (
		d         model.Document
		status    string
		scannedAt sql.NullTime
	)
	if err := row.Scan(
		&d.ID,
		&d.Filename,
		&d.StoragePath,
		&d.Size,
		&d.ContentType,
		&status,
		&d.ScanDegraded,
		&d.ScanProvider,
		&d.ThreatName,
		&scannedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.Status = lifecycle.Status(status)
	if scannedAt.Valid {
		t := scannedAt.Time
		d.ScannedAt = &t
	}
	return &d, nil
}

// Create inserts a new document row and returns the stored record.
func (r *DocumentPostgres) Create(ctx context.Context, doc *model.Document) (*model.Document, error) {
	const q = `
		INSERT INTO documents (id, filename, storage_path, size, content_type, status,
			scan_degraded, scan_provider, threat_name, scanned_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING ` + documentColumns

	var scannedAt sql.NullTime
	if doc.ScannedAt != nil {
		scannedAt = sql.NullTime{Time: *doc.ScannedAt, Valid: true}
	}

	row := r.db.QueryRowContext(ctx, q,
		doc.ID,
		doc.Filename,
		doc.StoragePath,
		doc.Size,
		doc.ContentType,
		string(doc.Status),
		doc.ScanDegraded,
		doc.ScanProvider,
		doc.ThreatName,
		scannedAt,
		doc.CreatedAt,
	)
	return scanDocument(row)
}

// FindByID fetches a single document by its ID.
func (r *DocumentPostgres) FindByID(ctx context.Context, id string) (*model.Document, error) {
	const q = `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	return scanDocument(r.db.QueryRowContext(ctx, q, id))
}

// List returns documents using LIMIT/OFFSET pagination and a total count.
func (r *DocumentPostgres) List(ctx context.Context, pq repository.PageQuery) (*repository.PageResult[model.Document], error) {
	status := string(pq.Status)

	const qCount = `SELECT COUNT(*) FROM documents WHERE ($1 = '' OR status = $1)`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount, status).Scan(&total); err != nil {
		return nil, err
	}

	const qList = `SELECT ` + documentColumns + `
		FROM documents
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.db.QueryContext(ctx, qList, status, pq.Limit, pq.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]model.Document, 0)
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.PageResult[model.Document]{
		Items: items,
		Total: total,
	}, nil
}

// Delete removes a document by ID. It does not return an error if the row does not exist.
func (r *DocumentPostgres) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM documents WHERE id = $1`
	_, err := r.db.ExecContext(ctx, q, id)
	return err
}

// UpdateStatus performs a compare-and-set on the status column so a
// transition validated against a stale status is never written.
func (r *DocumentPostgres) UpdateStatus(ctx context.Context, id string, from, to lifecycle.Status) (*model.Document, error) {
	const q = `
		UPDATE documents SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2
		RETURNING ` + documentColumns

	doc, err := scanDocument(r.db.QueryRowContext(ctx, q, id, string(from), string(to)))
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	const qExists = `SELECT EXISTS (SELECT 1 FROM documents WHERE id = $1)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, qExists, id).Scan(&exists); err != nil {
		return nil, err
	}
	if exists {
		return nil, repository.ErrStatusConflict
	}
	return nil, sql.ErrNoRows
}

// UpdateScan records the outcome of a (re-)scan.
func (r *DocumentPostgres) UpdateScan(ctx context.Context, id string, rec model.ScanRecord) error {
	const q = `
		UPDATE documents
		SET scan_degraded = $2, scan_provider = $3, threat_name = $4, scanned_at = $5, updated_at = now()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, q, id, rec.Degraded, rec.Provider, rec.ThreatName, rec.ScannedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
