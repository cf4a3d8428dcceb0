// Package async wraps a ledger.Store with buffered background writes so the
// streaming path never blocks on persistence. Entries still queued when the
// process dies are lost; usage accounting here is advisory, not billing-grade.
package async

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/finsight/reportstream/internal/ledger"
)

// Store queues entries in memory and writes them from a background worker.
type Store struct {
	underlying ledger.Store
	entries    chan ledger.Entry
	stop       chan struct{}
	wg         sync.WaitGroup
	logger     *log.Logger
}

// Config controls queue sizing.
type Config struct {
	Buffer int         // queued entries before Record starts dropping (default 1024)
	Logger *log.Logger // optional
}

// New wraps an existing store with asynchronous writes.
func New(underlying ledger.Store, cfg Config) *Store {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	s := &Store{
		underlying: underlying,
		entries:    make(chan ledger.Entry, cfg.Buffer),
		stop:       make(chan struct{}),
		logger:     cfg.Logger,
	}
	s.wg.Add(1)
	go s.writer()
	return s
}

func (s *Store) writer() {
	defer s.wg.Done()
	for {
		select {
		case entry := <-s.entries:
			s.write(entry)
		case <-s.stop:
			// Drain what is already queued before exiting.
			for {
				select {
				case entry := <-s.entries:
					s.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) write(entry ledger.Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.underlying.Record(ctx, entry); err != nil && s.logger != nil {
		s.logger.Printf("ledger.async: record failed user=%d model=%s err=%v", entry.UserID, entry.Model, err)
	}
}

// Record queues an entry. When the queue is full the entry is dropped rather
// than blocking the caller.
func (s *Store) Record(_ context.Context, entry ledger.Entry) error {
	select {
	case s.entries <- entry:
	default:
		if s.logger != nil {
			s.logger.Printf("ledger.async: queue full, dropping entry user=%d", entry.UserID)
		}
	}
	return nil
}

// Summary delegates to the underlying store. Recently queued entries may not
// be visible yet.
func (s *Store) Summary(ctx context.Context, userID int64) (ledger.Summary, error) {
	return s.underlying.Summary(ctx, userID)
}

// ListRecent delegates to the underlying store.
func (s *Store) ListRecent(ctx context.Context, userID int64, limit int) ([]ledger.Entry, error) {
	return s.underlying.ListRecent(ctx, userID, limit)
}

// Close flushes queued entries and closes the underlying store.
func (s *Store) Close() error {
	close(s.stop)
	s.wg.Wait()
	return s.underlying.Close()
}
