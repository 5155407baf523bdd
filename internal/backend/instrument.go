package backend

import (
	"context"
	"time"

	"github.com/encsearch/findex/internal/model"
	"github.com/encsearch/findex/pkg/metrics"
)

// InstrumentedStore decorates a Store with Prometheus collectors. It adds
// no behavior: every call is forwarded unchanged.
type InstrumentedStore struct {
	inner Store
	table string
	m     *metrics.Metrics
}

// Instrument wraps store with per-operation counters and latency
// histograms.
func Instrument(store Store, table Table, m *metrics.Metrics) *InstrumentedStore {
	return &InstrumentedStore{inner: store, table: string(table), m: m}
}

func (s *InstrumentedStore) DumpTokens(ctx context.Context) ([]model.Token, error) {
	done := s.observe("dump_tokens")
	tokens, err := s.inner.DumpTokens(ctx)
	done(err, len(tokens))
	return tokens, err
}

func (s *InstrumentedStore) Fetch(ctx context.Context, tokens []model.Token) (map[model.Token][]byte, error) {
	done := s.observe("fetch")
	rows, err := s.inner.Fetch(ctx, tokens)
	done(err, len(rows))
	return rows, err
}

func (s *InstrumentedStore) Upsert(ctx context.Context, oldValues, newValues map[model.Token][]byte) (map[model.Token][]byte, error) {
	done := s.observe("upsert")
	rejected, err := s.inner.Upsert(ctx, oldValues, newValues)
	done(err, len(newValues))
	if err == nil {
		s.m.UpsertConflicts.Add(float64(len(rejected)))
	}
	return rejected, err
}

func (s *InstrumentedStore) Insert(ctx context.Context, rows map[model.Token][]byte) error {
	done := s.observe("insert")
	err := s.inner.Insert(ctx, rows)
	done(err, len(rows))
	return err
}

func (s *InstrumentedStore) Delete(ctx context.Context, tokens []model.Token) error {
	done := s.observe("delete")
	err := s.inner.Delete(ctx, tokens)
	done(err, len(tokens))
	return err
}

func (s *InstrumentedStore) observe(op string) func(err error, rows int) {
	start := time.Now()
	return func(err error, rows int) {
		s.m.BackendOpsTotal.WithLabelValues(s.table, op).Inc()
		s.m.BackendOpDuration.WithLabelValues(s.table, op).Observe(time.Since(start).Seconds())
		if err != nil {
			s.m.BackendOpErrors.WithLabelValues(s.table, op).Inc()
			return
		}
		s.m.BackendRowsTotal.WithLabelValues(s.table, op).Add(float64(rows))
	}
}
