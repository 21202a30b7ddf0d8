package catalog

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"shopwatch/internal/eventbus"
	logx "shopwatch/pkg/logx"
)

// Outcome of one poll.
type Outcome string

const (
	Changed     Outcome = "changed"
	Unchanged   Outcome = "unchanged"
	FetchFailed Outcome = "fetch_failed"
	Skipped     Outcome = "skipped"
)

// Result describes one poll. Snapshot is set for Changed and Unchanged, Err for
// FetchFailed.
type Result struct {
	Outcome  Outcome
	Snapshot *Snapshot
	Err      error
	Took     time.Duration
}

// Fetcher is satisfied by *Client.
type Fetcher interface {
	Fetch(ctx context.Context) (*Snapshot, error)
}

// Metrics receives one observation per poll.
type Metrics interface {
	ObservePoll(outcome string, took time.Duration)
}

// ChangeHandler runs after the remembered snapshot moved to snap.
type ChangeHandler func(ctx context.Context, snap *Snapshot)

// ChangedEvent is the payload of catalog.changed.
type ChangedEvent struct {
	Fingerprint string
	Previous    string
	Entries     int
}

// Poller remembers the last observed snapshot and detects changes against it.
type Poller struct {
	fetch    Fetcher
	log      logx.Logger
	bus      eventbus.Bus
	metrics  Metrics
	onChange ChangeHandler

	mu   sync.Mutex
	prev *Snapshot

	sf singleflight.Group
}

type PollerOption func(*Poller)

func WithBus(bus eventbus.Bus) PollerOption          { return func(p *Poller) { p.bus = bus } }
func WithMetrics(m Metrics) PollerOption             { return func(p *Poller) { p.metrics = m } }
func WithChangeHandler(h ChangeHandler) PollerOption { return func(p *Poller) { p.onChange = h } }

func NewPoller(f Fetcher, log logx.Logger, opts ...PollerOption) *Poller {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Poller{fetch: f, log: log}
	for _, o := range opts {
		o(p)
	}
	return p
}

// PollOnce fetches and compares against previous. It does not touch the
// remembered snapshot.
func (p *Poller) PollOnce(ctx context.Context, previous *Snapshot) Result {
	start := time.Now()
	snap, err := p.fetch.Fetch(ctx)
	took := time.Since(start)
	if err != nil {
		return Result{Outcome: FetchFailed, Err: err, Took: took}
	}
	if previous != nil && previous.Equal(snap) {
		return Result{Outcome: Unchanged, Snapshot: snap, Took: took}
	}
	return Result{Outcome: Changed, Snapshot: snap, Took: took}
}

// Tick runs one poll against the remembered snapshot. A tick that starts while
// another is in flight joins it and returns Skipped.
func (p *Poller) Tick(ctx context.Context) Result {
	token := new(byte)
	v, _, _ := p.sf.Do("tick", func() (any, error) {
		return tickResult{Result: p.tick(ctx), leader: token}, nil
	})
	tr := v.(tickResult)
	if tr.leader != token {
		res := Result{Outcome: Skipped}
		p.record(res, nil)
		return res
	}
	return tr.Result
}

// tickResult carries the leader's token so joined callers can tell they did not
// run the poll themselves.
type tickResult struct {
	Result
	leader *byte
}

func (p *Poller) tick(ctx context.Context) Result {
	prev := p.Previous()
	res := p.PollOnce(ctx, prev)

	if res.Outcome == Changed {
		p.mu.Lock()
		swapped := p.prev == prev
		if swapped {
			p.prev = res.Snapshot
		}
		p.mu.Unlock()
		if !swapped {
			res.Outcome = Skipped
		}
	}
	p.record(res, prev)

	if res.Outcome == Changed && p.onChange != nil {
		p.onChange(ctx, res.Snapshot)
	}
	return res
}

// Previous returns the remembered snapshot (nil before the first change).
func (p *Poller) Previous() *Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prev
}

func (p *Poller) record(res Result, prev *Snapshot) {
	if p.metrics != nil {
		p.metrics.ObservePoll(string(res.Outcome), res.Took)
	}

	switch res.Outcome {
	case Changed:
		var prevFP string
		if prev != nil {
			prevFP = prev.Fingerprint
		}
		entries := len(res.Snapshot.Shop.FeaturedEntries())
		p.log.Info("catalog changed", logx.String("fingerprint", res.Snapshot.Fingerprint), logx.Int("entries", entries), logx.Duration("took", res.Took))
		p.publish(eventbus.CatalogChanged, ChangedEvent{Fingerprint: res.Snapshot.Fingerprint, Previous: prevFP, Entries: entries})
	case Unchanged:
		p.log.Debug("catalog unchanged", logx.String("fingerprint", res.Snapshot.Fingerprint), logx.Duration("took", res.Took))
		p.publish(eventbus.CatalogUnchanged, res.Snapshot.Fingerprint)
	case FetchFailed:
		p.log.Debug("catalog poll failed", logx.String("kind", string(KindOf(res.Err))), logx.Err(res.Err))
		p.publish(eventbus.CatalogFetchFailed, res.Err)
	case Skipped:
		p.log.Debug("catalog poll skipped")
		p.publish(eventbus.CatalogSkipped, nil)
	}
}

func (p *Poller) publish(typ string, data any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
