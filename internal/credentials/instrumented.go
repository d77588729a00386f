package credentials

import (
	"context"
	"errors"
	"time"

	"github.com/teemow/sheetsproxy/internal/instrumentation"
)

type instrumentedStore struct {
	next    Store
	backend string
	metrics *instrumentation.Metrics
}

// Instrument wraps s so every call is counted and timed under the given
// backend label. A nil metrics recorder returns s unchanged.
func Instrument(s Store, backend string, metrics *instrumentation.Metrics) Store {
	if metrics == nil {
		return s
	}
	return &instrumentedStore{next: s, backend: backend, metrics: metrics}
}

func (s *instrumentedStore) record(ctx context.Context, op string, start time.Time, err error) {
	status := instrumentation.StatusSuccess
	// A missing record is a normal answer, not a backend failure.
	if err != nil && !errors.Is(err, ErrNotFound) {
		status = instrumentation.StatusError
	}
	s.metrics.RecordCredentialOperation(ctx, s.backend, op, status, time.Since(start))
}

func (s *instrumentedStore) Load(ctx context.Context, identity string) (*Credential, error) {
	start := time.Now()
	c, err := s.next.Load(ctx, identity)
	s.record(ctx, instrumentation.OperationLoad, start, err)
	return c, err
}

func (s *instrumentedStore) Store(ctx context.Context, identity string, c *Credential) error {
	start := time.Now()
	err := s.next.Store(ctx, identity, c)
	s.record(ctx, instrumentation.OperationStore, start, err)
	return err
}

func (s *instrumentedStore) Update(ctx context.Context, identity string, u Update) error {
	start := time.Now()
	err := s.next.Update(ctx, identity, u)
	s.record(ctx, instrumentation.OperationUpdate, start, err)
	return err
}

func (s *instrumentedStore) Revoke(ctx context.Context, identity string) error {
	start := time.Now()
	err := s.next.Revoke(ctx, identity)
	s.record(ctx, instrumentation.OperationRevoke, start, err)
	return err
}
