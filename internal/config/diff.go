package config

import (
	"strings"

	logx "shopwatch/pkg/logx"
)

// Change lists the sections that differ between two configs.
type Change struct {
	Sections []string
	// Restart lists changed sections that only take effect after a restart.
	Restart []string
	Fields  []logx.Field
}

func (c Change) Empty() bool { return len(c.Sections) == 0 }

func (c Change) Has(section string) bool {
	for _, s := range c.Sections {
		if s == section {
			return true
		}
	}
	return false
}

// Diff summarizes what changed from a to b. Fields never carry secrets.
func Diff(a, b *Config) Change {
	if a == nil {
		a = Default()
	}
	if b == nil {
		b = Default()
	}
	var ch Change
	mark := func(section string, restart bool, fields ...logx.Field) {
		ch.Sections = append(ch.Sections, section)
		if restart {
			ch.Restart = append(ch.Restart, section)
		}
		ch.Fields = append(ch.Fields, fields...)
	}

	if a.Telegram != b.Telegram {
		mark("telegram", a.Telegram.PollTimeout != b.Telegram.PollTimeout,
			logx.Duration("telegram.poll_timeout", b.Telegram.PollTimeout.D()),
			logx.Bool("telegram.log_chat_set", b.Telegram.LogChatID != 0))
	}
	if a.Logging != b.Logging {
		mark("logging", false,
			logx.String("logging.level", b.Logging.Level),
			logx.Bool("logging.file", b.Logging.File.Enabled),
			logx.Bool("logging.chat", b.Logging.Chat.Enabled))
	}
	if a.Catalog != b.Catalog {
		mark("catalog", true, logx.String("catalog.url", b.Catalog.URL), logx.Duration("catalog.timeout", b.Catalog.Timeout.D()))
	}
	if a.Poll != b.Poll {
		restart := strings.TrimSpace(a.Poll.Timezone) != strings.TrimSpace(b.Poll.Timezone)
		mark("poll", restart, logx.String("poll.interval", b.Poll.Interval))
	}
	if a.Dispatch != b.Dispatch {
		mark("dispatch", false,
			logx.Any("dispatch.rate_per_sec", b.Dispatch.RatePerSec),
			logx.Duration("dispatch.send_timeout", b.Dispatch.SendTimeout.D()))
	}
	if a.Storage != b.Storage {
		mark("storage", true, logx.String("storage.driver", b.Storage.Driver))
	}
	if a.Server != b.Server {
		mark("server", false, logx.Bool("server.enabled", b.Server.Enabled), logx.String("server.addr", b.Server.Addr))
	}
	return ch
}
