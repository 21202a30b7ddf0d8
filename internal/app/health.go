package app

import (
	"time"

	"shopwatch/internal/catalog"
	"shopwatch/internal/dispatch"
)

// Health is the /healthz document.
type Health struct {
	Status       string           `json:"status"`
	Subscribers  int              `json:"subscribers"`
	LastPoll     string           `json:"last_poll,omitempty"`
	LastPollAt   *time.Time       `json:"last_poll_at,omitempty"`
	LastError    string           `json:"last_error,omitempty"`
	Fingerprint  string           `json:"fingerprint,omitempty"`
	NextPoll     *time.Time       `json:"next_poll,omitempty"`
	LastDispatch *dispatch.Report `json:"last_dispatch,omitempty"`
}

// health is healthy once started. The last poll outcome is informational only.
func (a *App) health() (any, bool) {
	a.stateMu.Lock()
	started, res, at := a.started, a.lastPoll, a.lastAt
	a.stateMu.Unlock()

	h := Health{Status: "ok", Subscribers: a.registry.Count()}
	if !started {
		h.Status = "starting"
	}
	if !at.IsZero() {
		h.LastPoll = string(res.Outcome)
		h.LastPollAt = &at
		if res.Outcome == catalog.FetchFailed && res.Err != nil {
			h.LastError = res.Err.Error()
		}
	}
	if prev := a.poller.Previous(); prev != nil {
		h.Fingerprint = prev.Fingerprint
	}
	if next := a.sched.Next(pollJob); !next.IsZero() {
		h.NextPoll = &next
	}
	if rep, ok := a.dispatcher.Last(); ok {
		h.LastDispatch = &rep
	}
	return h, started
}
