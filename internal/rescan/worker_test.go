package rescan

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docgate/internal/lifecycle"
	"docgate/internal/logging"
	"docgate/internal/model"
	repoMocks "docgate/internal/repository/mocks"
	"docgate/internal/storage"
	storeMocks "docgate/internal/storage/mocks"
	"docgate/internal/validation/scanner"
	scannerMocks "docgate/internal/validation/scanner/mocks"
)

var content = []byte("%PDF-1.4\nbody")

func degradedDoc(id string) *model.Document {
	return &model.Document{
		ID:           id,
		StoragePath:  "documents/" + id + ".pdf",
		Status:       lifecycle.StatusUploaded,
		ScanDegraded: true,
	}
}

func body() io.ReadCloser { return io.NopCloser(bytes.NewReader(content)) }

func objectInfo() storage.ObjectInfo {
	return storage.ObjectInfo{Metadata: map[string]string{"Original-Filename": "a.pdf", "Scan-State": storage.ScanStateDegraded}}
}

func TestWorker_Process(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		setup      func(r *repoMocks.MockDocumentRepository, s *storeMocks.MockStorage, sc *scannerMocks.MockScanner)
		want       Result
		wantErr    string
		wantNoScan bool
	}{
		{
			name: "clean clears the degraded flag",
			setup: func(r *repoMocks.MockDocumentRepository, s *storeMocks.MockStorage, sc *scannerMocks.MockScanner) {
				r.On("FindByID", mock.Anything, "d1").Return(degradedDoc("d1"), nil)
				s.On("Get", mock.Anything, "documents/d1.pdf").Return(body(), objectInfo(), nil)
				sc.On("Scan", mock.Anything, content).Return(scanner.Clean("clamav"))
				r.On("UpdateScan", mock.Anything, "d1", model.ScanRecord{Provider: "clamav", ScannedAt: fixed}).Return(nil)
				s.On("UpdateMetadata", mock.Anything, "documents/d1.pdf", mock.MatchedBy(func(m map[string]string) bool {
					return m[storage.MetaScanState] == storage.ScanStateClean && m[storage.MetaOriginalFilename] == "a.pdf"
				})).Return(nil)
			},
			want: ResultClean,
		},
		{
			name: "threat is recorded",
			setup: func(r *repoMocks.MockDocumentRepository, s *storeMocks.MockStorage, sc *scannerMocks.MockScanner) {
				r.On("FindByID", mock.Anything, "d1").Return(degradedDoc("d1"), nil)
				s.On("Get", mock.Anything, "documents/d1.pdf").Return(body(), objectInfo(), nil)
				sc.On("Scan", mock.Anything, content).Return(scanner.Threat("clamav", "Eicar-Test-Signature"))
				r.On("UpdateScan", mock.Anything, "d1", model.ScanRecord{Provider: "clamav", ThreatName: "Eicar-Test-Signature", ScannedAt: fixed}).Return(nil)
				s.On("UpdateMetadata", mock.Anything, "documents/d1.pdf", mock.MatchedBy(func(m map[string]string) bool {
					return m[storage.MetaScanState] == storage.ScanStateThreat
				})).Return(nil)
			},
			want: ResultThreat,
		},
		{
			name: "still degraded writes nothing",
			setup: func(r *repoMocks.MockDocumentRepository, s *storeMocks.MockStorage, sc *scannerMocks.MockScanner) {
				r.On("FindByID", mock.Anything, "d1").Return(degradedDoc("d1"), nil)
				s.On("Get", mock.Anything, "documents/d1.pdf").Return(body(), objectInfo(), nil)
				sc.On("Scan", mock.Anything, content).Return(scanner.Degraded("clamav", scanner.ReasonTimeout))
			},
			want: ResultDegraded,
		},
		{
			name: "metadata failure is not fatal",
			setup: func(r *repoMocks.MockDocumentRepository, s *storeMocks.MockStorage, sc *scannerMocks.MockScanner) {
				r.On("FindByID", mock.Anything, "d1").Return(degradedDoc("d1"), nil)
				s.On("Get", mock.Anything, "documents/d1.pdf").Return(body(), objectInfo(), nil)
				sc.On("Scan", mock.Anything, content).Return(scanner.Clean("clamav"))
				r.On("UpdateScan", mock.Anything, "d1", mock.Anything).Return(nil)
				s.On("UpdateMetadata", mock.Anything, "documents/d1.pdf", mock.Anything).Return(errors.New("s3 down"))
			},
			want: ResultClean,
		},
		{
			name: "deleted document is skipped",
			setup: func(r *repoMocks.MockDocumentRepository, s *storeMocks.MockStorage, sc *scannerMocks.MockScanner) {
				r.On("FindByID", mock.Anything, "d1").Return(nil, sql.ErrNoRows)
			},
			want:       ResultSkipped,
			wantNoScan: true,
		},
		{
			name: "already rescanned is skipped",
			setup: func(r *repoMocks.MockDocumentRepository, s *storeMocks.MockStorage, sc *scannerMocks.MockScanner) {
				doc := degradedDoc("d1")
				doc.ScanDegraded = false
				r.On("FindByID", mock.Anything, "d1").Return(doc, nil)
			},
			want:       ResultSkipped,
			wantNoScan: true,
		},
		{
			name: "object fetch failure",
			setup: func(r *repoMocks.MockDocumentRepository, s *storeMocks.MockStorage, sc *scannerMocks.MockScanner) {
				r.On("FindByID", mock.Anything, "d1").Return(degradedDoc("d1"), nil)
				s.On("Get", mock.Anything, "documents/d1.pdf").Return(nil, storage.ObjectInfo{}, errors.New("no such key"))
			},
			wantErr:    "fetch object: no such key",
			wantNoScan: true,
		},
		{
			name: "missing object is dropped",
			setup: func(r *repoMocks.MockDocumentRepository, s *storeMocks.MockStorage, sc *scannerMocks.MockScanner) {
				r.On("FindByID", mock.Anything, "d1").Return(degradedDoc("d1"), nil)
				s.On("Get", mock.Anything, "documents/d1.pdf").
					Return(nil, storage.ObjectInfo{}, fmt.Errorf("%w: documents/d1.pdf", storage.ErrObjectNotFound))
			},
			want:       ResultDropped,
			wantNoScan: true,
		},
		{
			name: "scan record failure",
			setup: func(r *repoMocks.MockDocumentRepository, s *storeMocks.MockStorage, sc *scannerMocks.MockScanner) {
				r.On("FindByID", mock.Anything, "d1").Return(degradedDoc("d1"), nil)
				s.On("Get", mock.Anything, "documents/d1.pdf").Return(body(), objectInfo(), nil)
				sc.On("Scan", mock.Anything, content).Return(scanner.Clean("clamav"))
				r.On("UpdateScan", mock.Anything, "d1", mock.Anything).Return(errors.New("db fail"))
			},
			wantErr: "record scan: db fail",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := new(repoMocks.MockDocumentRepository)
			s := new(storeMocks.MockStorage)
			sc := new(scannerMocks.MockScanner)
			tt.setup(r, s, sc)

			w := NewWorker(nil, r, s, sc, logging.Discard(), time.Second)
			w.now = func() time.Time { return fixed }

			got, err := w.Process(ctx, "d1")

			if tt.wantErr != "" {
				assert.EqualError(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
			if tt.wantNoScan {
				sc.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything)
			}
			r.AssertExpectations(t)
			s.AssertExpectations(t)
			sc.AssertExpectations(t)
		})
	}
}

type chanQueue struct {
	items    chan string
	requeued chan string
}

func (q *chanQueue) Enqueue(_ context.Context, id string) error {
	q.requeued <- id
	return nil
}

func (q *chanQueue) Dequeue(ctx context.Context, wait time.Duration) (string, error) {
	select {
	case id := <-q.items:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(wait):
		return "", ErrEmpty
	}
}

func TestWorker_Run(t *testing.T) {
	q := &chanQueue{items: make(chan string, 2), requeued: make(chan string, 2)}
	r := new(repoMocks.MockDocumentRepository)
	s := new(storeMocks.MockStorage)
	sc := new(scannerMocks.MockScanner)

	recorded := make(chan struct{})
	r.On("FindByID", mock.Anything, "clean-doc").Return(degradedDoc("clean-doc"), nil)
	r.On("FindByID", mock.Anything, "down-doc").Return(degradedDoc("down-doc"), nil)
	s.On("Get", mock.Anything, "documents/clean-doc.pdf").Return(body(), objectInfo(), nil)
	s.On("Get", mock.Anything, "documents/down-doc.pdf").Return(body(), objectInfo(), nil)
	sc.On("Scan", mock.Anything, content).Return(scanner.Clean("clamav")).Once()
	sc.On("Scan", mock.Anything, content).Return(scanner.Degraded("clamav", scanner.ReasonError)).Once()
	r.On("UpdateScan", mock.Anything, "clean-doc", mock.Anything).Return(nil).Run(func(mock.Arguments) { close(recorded) })
	s.On("UpdateMetadata", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	q.items <- "clean-doc"
	q.items <- "down-doc"

	w := NewWorker(q, r, s, sc, logging.Discard(), 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-recorded:
	case <-time.After(5 * time.Second):
		t.Fatal("clean document was not recorded")
	}
	select {
	case id := <-q.requeued:
		assert.Equal(t, "down-doc", id)
	case <-time.After(5 * time.Second):
		t.Fatal("degraded document was not requeued")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}

// loopQueue feeds requeued IDs straight back to the worker.
type loopQueue struct {
	mu       sync.Mutex
	items    chan string
	requeues int
}

func (q *loopQueue) Enqueue(_ context.Context, id string) error {
	q.mu.Lock()
	q.requeues++
	q.mu.Unlock()
	q.items <- id
	return nil
}

func (q *loopQueue) Dequeue(ctx context.Context, wait time.Duration) (string, error) {
	select {
	case id := <-q.items:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(wait):
		return "", ErrEmpty
	}
}

func (q *loopQueue) Requeues() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.requeues
}

func TestWorker_Run_GivesUp(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(r *repoMocks.MockDocumentRepository, s *storeMocks.MockStorage, loads *atomic.Int32)
		wantLoads    int32
		wantRequeues int
	}{
		{
			name: "object deleted underneath the record",
			setup: func(r *repoMocks.MockDocumentRepository, s *storeMocks.MockStorage, loads *atomic.Int32) {
				r.On("FindByID", mock.Anything, "orphan").Return(degradedDoc("orphan"), nil).
					Run(func(mock.Arguments) { loads.Add(1) })
				s.On("Get", mock.Anything, "documents/orphan.pdf").
					Return(nil, storage.ObjectInfo{}, fmt.Errorf("%w: The specified key does not exist.", storage.ErrObjectNotFound))
			},
			wantLoads:    1,
			wantRequeues: 0,
		},
		{
			name: "repeated errors stop after max attempts",
			setup: func(r *repoMocks.MockDocumentRepository, s *storeMocks.MockStorage, loads *atomic.Int32) {
				r.On("FindByID", mock.Anything, "orphan").Return(nil, errors.New("db unavailable")).
					Run(func(mock.Arguments) { loads.Add(1) })
			},
			wantLoads:    3,
			wantRequeues: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &loopQueue{items: make(chan string, 4)}
			r := new(repoMocks.MockDocumentRepository)
			s := new(storeMocks.MockStorage)
			sc := new(scannerMocks.MockScanner)
			var loads atomic.Int32
			tt.setup(r, s, &loads)

			q.items <- "orphan"

			w := NewWorker(q, r, s, sc, logging.Discard(), time.Millisecond)
			w.maxAttempts = 3
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan error, 1)
			go func() { done <- w.Run(ctx) }()

			require.Eventually(t, func() bool { return loads.Load() >= tt.wantLoads }, 5*time.Second, time.Millisecond)
			// let the worker spin a while longer; nothing may come back
			time.Sleep(100 * time.Millisecond)
			cancel()
			require.NoError(t, <-done)

			assert.Equal(t, tt.wantLoads, loads.Load())
			assert.Equal(t, tt.wantRequeues, q.Requeues())
			assert.Empty(t, w.failures)
			sc.AssertNotCalled(t, "Scan", mock.Anything, mock.Anything)
		})
	}
}
