package app

import (
	"context"
	"fmt"
	"strings"

	"shopwatch/internal/config"
	"shopwatch/internal/observability/server"
	logx "shopwatch/pkg/logx"
)

// reloadLoop applies committed config changes. Storage, catalog and Telegram
// connection settings only take effect after a restart.
func (a *App) reloadLoop(ctx context.Context, reloads <-chan *config.Config) {
	applied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case next, ok := <-reloads:
			if !ok {
				return
			}
			// Coalesce bursts.
			for drained := false; !drained; {
				select {
				case newer := <-reloads:
					next = newer
				default:
					drained = true
				}
			}
			a.apply(ctx, applied, next)
			applied = next
		}
	}
}

func (a *App) apply(ctx context.Context, prev, next *config.Config) {
	ch := config.Diff(prev, next)
	if ch.Empty() {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if len(ch.Restart) > 0 {
		a.log.Warn("config changed; restart required for some sections", logx.String("sections", strings.Join(ch.Restart, ",")))
	}

	if ch.Has("logging") || ch.Has("telegram") {
		if a.logs != nil {
			a.logs.Apply(next.LogConfig())
		}
	}
	if ch.Has("poll") {
		if err := a.sched.Reschedule(pollJob, next.Poll.Interval); err != nil {
			a.log.Warn("poll interval not applied", logx.Err(err))
		}
	}
	if ch.Has("dispatch") {
		a.dispatcher.Apply(mapDispatchConfig(next))
	}
	if ch.Has("server") {
		a.server.Reconfigure(ctx, mapServerConfig(next, a.secrets))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, ch.Fields...)
	a.log.Info("config reloaded", fields...)
}

// checkReload rejects a changed config the running services could not apply.
func (a *App) checkReload(_ context.Context, next *config.Config) error {
	if err := a.sched.Check(next.Poll.Interval); err != nil {
		return fmt.Errorf("poll.interval: %w", err)
	}
	if err := server.CheckBind(mapServerConfig(next, a.secrets)); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
