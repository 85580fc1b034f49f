// Package sink persists finished runs: a JSON artifact on disk, NATS
// messages, a Neo4j listing graph and Qdrant comparables vectors.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/WessleyAI/wessley-listings/engine/domain"
	"github.com/WessleyAI/wessley-listings/pkg/fn"
)

// Sink accepts a completed run and the flat list of its records.
type Sink interface {
	Persist(ctx context.Context, report domain.RunReport, records []domain.Record) error
}

// Func adapts a function to Sink.
type Func func(ctx context.Context, report domain.RunReport, records []domain.Record) error

func (f Func) Persist(ctx context.Context, report domain.RunReport, records []domain.Record) error {
	return f(ctx, report, records)
}

// Named tags a sink for error messages.
type Named struct {
	Name string
	Sink Sink
}

// Multi fans a run out to every sink concurrently. All sinks are attempted;
// their errors are joined in sink order.
type Multi []Named

func (m Multi) Persist(ctx context.Context, report domain.RunReport, records []domain.Record) error {
	errs := fn.ParMap(m, len(m), func(n Named) error {
		if n.Sink == nil {
			return nil
		}
		if err := persistGuarded(ctx, n.Sink, report, records); err != nil {
			return fmt.Errorf("sink %s: %w", n.Name, err)
		}
		return nil
	})
	return errors.Join(errs...)
}

func persistGuarded(ctx context.Context, s Sink, report domain.RunReport, records []domain.Record) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &domain.PanicError{Value: v}
		}
	}()
	return s.Persist(ctx, report, records)
}

// Latest keeps the most recent report in memory and serves it as JSON.
type Latest struct {
	mu     sync.RWMutex
	report *domain.RunReport
}

func (l *Latest) Persist(_ context.Context, report domain.RunReport, _ []domain.Record) error {
	l.mu.Lock()
	l.report = &report
	l.mu.Unlock()
	return nil
}

// Report returns the last persisted report, if any.
func (l *Latest) Report() (domain.RunReport, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.report == nil {
		return domain.RunReport{}, false
	}
	return *l.report, true
}

// ServeHTTP writes the last report, or 404 before the first run.
func (l *Latest) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	report, ok := l.Report()
	if !ok {
		http.Error(w, "no run finished yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}
