package analysis

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/mbs-selection-server/internal/domain"
)

// Analyzer is the interface the dispatcher needs from the backend client.
type Analyzer interface {
	Analyze(ctx context.Context, req *domain.AnalyzeRequest) (*domain.AnalyzeResponse, error)
}

// Dispatcher serializes user-initiated analyses for one selection session.
// Each submission supersedes every earlier one: a response that arrives after
// a newer request has been issued is discarded as stale, so a slow old
// analysis can never overwrite the recommendations of a fresh one.
type Dispatcher struct {
	client Analyzer
	logger *logrus.Logger
	seq    atomic.Uint64
}

// NewDispatcher creates a dispatcher over the given client.
func NewDispatcher(client Analyzer, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{client: client, logger: logger}
}

// Analyze submits a request. If a newer request is issued before this one
// completes, the result is dropped and domain.ErrStaleResponse is returned.
func (d *Dispatcher) Analyze(ctx context.Context, req *domain.AnalyzeRequest) (*domain.AnalyzeResponse, error) {
	seq := d.seq.Add(1)

	resp, err := d.client.Analyze(ctx, req)
	if d.seq.Load() != seq {
		d.logger.WithField("seq", seq).Debug("Discarding stale analysis response")
		return nil, domain.ErrStaleResponse
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Abandon invalidates any in-flight request without issuing a new one, e.g.
// when the user clears the input.
func (d *Dispatcher) Abandon() {
	d.seq.Add(1)
}
