// Package mail composes notification mails and hands them to an SMTP relay.
package mail

import (
	"context"
	"sort"
	"sync"

	"github.com/sprite-ai/refgate/internal/config"
)

// Batch is a set of mails sharing a sender and a subject. Bodies maps each
// recipient address to its HTML body fragment.
type Batch struct {
	From    string
	Subject string
	Bodies  map[string]string
}

// Recipients returns the batch's addresses, sorted.
func (b Batch) Recipients() []string {
	to := make([]string, 0, len(b.Bodies))
	for addr := range b.Bodies {
		to = append(to, addr)
	}
	sort.Strings(to)
	return to
}

// Sender delivers batches. Delivery is attempted once; failures are
// returned, never retried.
type Sender interface {
	Send(ctx context.Context, b Batch) error
}

// Factory builds a Sender from a check's parameters.
type Factory func(params config.Params) (Sender, error)

// Recorder is a Sender that keeps batches in memory instead of delivering
// them. It backs dry runs and tests.
type Recorder struct {
	mu      sync.Mutex
	batches []Batch
}

// Send records b.
func (r *Recorder) Send(_ context.Context, b Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, b)
	return nil
}

// Batches returns the recorded batches in send order.
func (r *Recorder) Batches() []Batch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Batch(nil), r.batches...)
}

// Factory returns a Factory that always yields r.
func (r *Recorder) Factory() Factory {
	return func(config.Params) (Sender, error) { return r, nil }
}
