package mediaclient

import (
	"context"
	"errors"
	"time"

	"media-manager/pkg/mediacatalog"
)

// Poll defaults: a fixed 3s interval with a 5 minute hard cap. No backoff,
// no jitter; abandoned or stuck jobs stop costing lookups after the cap.
const (
	DefaultPollInterval = 3 * time.Second
	DefaultPollTimeout  = 5 * time.Minute
)

// ErrPollTimeout is returned when the record never left processing within
// the poll timeout.
var ErrPollTimeout = errors.New("media still processing after poll timeout")

// LookupFunc fetches the current status of one record.
type LookupFunc func(ctx context.Context, mediaID string) (*mediacatalog.StatusResponse, error)

// Poller repeatedly looks up a record until its processing predicate clears.
// Each in-flight media id gets its own WaitForProcessed call and therefore
// its own timer; concurrent uploads poll independently.
type Poller struct {
	Interval time.Duration
	Timeout  time.Duration
	Lookup   LookupFunc
}

// NewPoller builds a poller backed by the given client with default bounds.
func NewPoller(c *Client) *Poller {
	return &Poller{
		Interval: DefaultPollInterval,
		Timeout:  DefaultPollTimeout,
		Lookup:   c.Status,
	}
}

// WaitForProcessed polls until the record is no longer processing and
// returns the final record. The predicate is recomputed locally from every
// response, so the poller and the pipeline cannot disagree on what
// "processing" means. Lookup errors are treated as transient and the poll
// continues; ErrPollTimeout is returned once the hard cap elapses.
func (p *Poller) WaitForProcessed(ctx context.Context, mediaID string) (*mediacatalog.MediaRecord, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrPollTimeout
			}
			return nil, ctx.Err()
		case <-ticker.C:
			st, err := p.Lookup(ctx, mediaID)
			if err != nil {
				// Transient blips (service restart, network hiccup) should
				// not abandon an otherwise healthy job; the deadline bounds
				// an unlucky streak.
				continue
			}
			rec := st.Media
			if !mediacatalog.IsProcessing(&rec) {
				return &rec, nil
			}
		}
	}
}
