package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telecare/signaling-service/internal/domain"
	"github.com/telecare/signaling-service/internal/errs"
	"github.com/telecare/signaling-service/internal/postgres"
)

var ErrAuditDisabled = fmt.Errorf("%w: audit trail is disabled", errs.ErrUnavailable)

type AuditStore interface {
	Insert(ctx context.Context, e domain.AuditEntry) error
	List(ctx context.Context, f postgres.AuditFilter) ([]domain.AuditEntry, string, error)
}

type AuditOptions struct {
	QueueSize    int
	Workers      int
	WriteTimeout time.Duration
}

// AuditService persists audit entries off the signaling path. Record never
// blocks: when the queue is full the entry is dropped and logged.
// A nil store turns it into a no-op.
type AuditService struct {
	store AuditStore
	opts  AuditOptions

	mu     sync.RWMutex
	closed bool
	queue  chan domain.AuditEntry
	wg     sync.WaitGroup

	dropped atomic.Uint64
}

func NewAuditService(store AuditStore, opts AuditOptions) *AuditService {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}

	s := &AuditService{store: store, opts: opts}
	if store == nil {
		return s
	}

	s.queue = make(chan domain.AuditEntry, opts.QueueSize)
	for i := 0; i < opts.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

func (s *AuditService) Enabled() bool { return s.store != nil }

func (s *AuditService) Record(e domain.AuditEntry) {
	if s.store == nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}

	select {
	case s.queue <- e:
	default:
		s.dropped.Add(1)
		slog.Warn("audit queue full, entry dropped", "user", e.UserID, "action", e.Action)
	}
}

// Dropped reports how many entries were lost to a full queue.
func (s *AuditService) Dropped() uint64 { return s.dropped.Load() }

// History lists the caller's own entries, newest first.
func (s *AuditService) History(ctx context.Context, f postgres.AuditFilter) ([]domain.AuditEntry, string, error) {
	if s.store == nil {
		return nil, "", ErrAuditDisabled
	}
	return s.store.List(ctx, f)
}

// Close stops intake and waits for queued entries to be written or ctx to end.
func (s *AuditService) Close(ctx context.Context) error {
	if s.store == nil {
		return nil
	}

	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *AuditService) worker() {
	defer s.wg.Done()

	for e := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
		if err := s.store.Insert(ctx, e); err != nil {
			slog.Error("audit insert failed", "user", e.UserID, "action", e.Action, "err", err)
		}
		cancel()
	}
}
