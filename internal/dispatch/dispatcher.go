// Package dispatch delivers rendered shop items to every subscriber.
package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"shopwatch/internal/eventbus"
	"shopwatch/internal/render"
	kit "shopwatch/internal/transport"
	logx "shopwatch/pkg/logx"
)

const defaultSendTimeout = 10 * time.Second

type Config struct {
	// RatePerSec paces sends across the whole run. <= 0 disables pacing.
	RatePerSec  float64
	SendTimeout time.Duration
}

// Sender is the subset of transport.Adapter the dispatcher needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
	SendPhoto(ctx context.Context, to kit.ChatTarget, photoURL, caption string, opt *kit.SendOptions) (kit.MessageRef, error)
}

// Metrics receives delivery counters.
type Metrics interface {
	ObserveDelivery(result string)
	ObserveResolveFailure()
}

// Report summarizes one dispatch run.
type Report struct {
	ID          string
	Subscribers int
	Resolved    int
	Unresolved  int
	Items       int
	Sent        int
	Failed      int
	Took        time.Duration
	Canceled    bool
}

type Dispatcher struct {
	sender   Sender
	resolver kit.Resolver
	log      logx.Logger
	bus      eventbus.Bus
	metrics  Metrics

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	last    *Report
}

type Option func(*Dispatcher)

func WithBus(bus eventbus.Bus) Option { return func(d *Dispatcher) { d.bus = bus } }
func WithMetrics(m Metrics) Option    { return func(d *Dispatcher) { d.metrics = m } }

func New(sender Sender, resolver kit.Resolver, cfg Config, log logx.Logger, opts ...Option) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{sender: sender, resolver: resolver, log: log}
	for _, o := range opts {
		o(d)
	}
	d.Apply(cfg)
	return d
}

// Apply swaps pacing and timeout settings. A run in progress keeps the values it
// started with.
func (d *Dispatcher) Apply(cfg Config) {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	d.mu.Lock()
	d.cfg = cfg
	d.limiter = lim
	d.mu.Unlock()
}

// Last returns the most recent report.
func (d *Dispatcher) Last() (Report, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.last == nil {
		return Report{}, false
	}
	return *d.last, true
}

// Dispatch sends every item to every subscriber, one send at a time, in
// subscriber order and then item order. Unresolvable subscribers are skipped and
// failed sends are not retried. Cancelling ctx ends the run early.
func (d *Dispatcher) Dispatch(ctx context.Context, items []render.Item, subscribers []string) Report {
	d.mu.Lock()
	cfg, lim := d.cfg, d.limiter
	d.mu.Unlock()

	start := time.Now()
	rep := Report{ID: uuid.NewString(), Subscribers: len(subscribers), Items: len(items)}
	log := d.log.With(logx.String("run", rep.ID))

	cards := make([]render.Card, len(items))
	for i, it := range items {
		cards[i] = it.Card()
	}
	log.Info("dispatch started", logx.Int("subscribers", rep.Subscribers), logx.Int("items", rep.Items))

loop:
	for _, id := range subscribers {
		if ctx.Err() != nil {
			rep.Canceled = true
			break
		}
		to, err := d.resolver.ResolveChat(ctx, id)
		if err != nil {
			rep.Unresolved++
			if d.metrics != nil {
				d.metrics.ObserveResolveFailure()
			}
			log.Warn("subscriber not resolvable", logx.String("subscriber", id), logx.Err(err))
			continue
		}
		rep.Resolved++

		for i, c := range cards {
			if lim != nil {
				if err := lim.Wait(ctx); err != nil {
					rep.Canceled = true
					break loop
				}
			}
			err := d.send(ctx, to, c, cfg.SendTimeout)
			switch {
			case err == nil:
				rep.Sent++
				d.observe("sent")
			case ctx.Err() != nil && errors.Is(err, context.Canceled):
				rep.Canceled = true
				break loop
			default:
				rep.Failed++
				d.observe("failed")
				log.Warn("delivery failed", logx.String("subscriber", id), logx.Int64("chat_id", to.ChatID), logx.Int("item", i), logx.Err(err))
			}
		}
	}
	rep.Took = time.Since(start)

	fields := []logx.Field{
		logx.Int("resolved", rep.Resolved),
		logx.Int("unresolved", rep.Unresolved),
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.Took),
	}
	switch {
	case rep.Canceled:
		log.Warn("dispatch canceled", fields...)
	case rep.Failed > 0 || rep.Unresolved > 0:
		log.Warn("dispatch finished with failures", fields...)
	default:
		log.Info("dispatch finished", fields...)
	}

	d.mu.Lock()
	last := rep
	d.last = &last
	d.mu.Unlock()
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.DispatchCompleted, Data: rep})
	}
	return rep
}

func (d *Dispatcher) send(ctx context.Context, to kit.ChatTarget, c render.Card, timeout time.Duration) error {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	if c.ImageURL != "" {
		_, err := d.sender.SendPhoto(sctx, to, c.ImageURL, c.Text, opt)
		return err
	}
	_, err := d.sender.SendText(sctx, to, c.Text, opt)
	return err
}

func (d *Dispatcher) observe(result string) {
	if d.metrics != nil {
		d.metrics.ObserveDelivery(result)
	}
}
