// Package commands handles the /start and /stop direct messages.
package commands

import (
	"context"
	"strconv"
	"strings"

	"shopwatch/internal/subscribers"
	kit "shopwatch/internal/transport"
	logx "shopwatch/pkg/logx"
)

const (
	CmdStart = "/start"
	CmdStop  = "/stop"

	ReplySubscribed        = "You are now subscribed to item shop updates!"
	ReplyAlreadySubscribed = "You are already subscribed."
	ReplyUnsubscribed      = "You have unsubscribed from updates."
	ReplyNotSubscribed     = "You were not subscribed."
	ReplySaveFailed        = "Your request could not be saved, please try again later."
)

// Menu is the command menu published to the platform.
var Menu = []kit.BotCommand{
	{Command: "start", Description: "Subscribe to item shop updates"},
	{Command: "stop", Description: "Stop receiving updates"},
}

// Registry is satisfied by *subscribers.Registry.
type Registry interface {
	Subscribe(ctx context.Context, id string) (subscribers.Result, error)
	Unsubscribe(ctx context.Context, id string) (subscribers.Result, error)
}

// Replier sends a reply into the chat a command came from.
type Replier interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type Handler struct {
	reg     Registry
	log     logx.Logger
	botName string
}

// New returns a handler. botUsername is the bot's own username (without "@"),
// used to accept "/start@<bot>".
func New(reg Registry, botUsername string, log logx.Logger) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Handler{
		reg:     reg,
		log:     log,
		botName: strings.ToLower(strings.TrimPrefix(strings.TrimSpace(botUsername), "@")),
	}
}

// SenderID is the subscriber identity of msg: the private chat id in decimal.
func SenderID(msg *kit.Message) string {
	return strconv.FormatInt(msg.ChatID, 10)
}

// Handle returns the reply for msg. handled is false for anything that is not
// a recognized command in a private chat; such messages get no reply.
func (h *Handler) Handle(ctx context.Context, msg *kit.Message) (reply string, handled bool) {
	if msg == nil || !msg.Private {
		return "", false
	}
	cmd, ok := h.parse(msg.Text)
	if !ok {
		return "", false
	}

	id := SenderID(msg)
	log := h.log.With(logx.String("cmd", cmd), logx.String("subscriber", id))

	var (
		res subscribers.Result
		err error
	)
	switch cmd {
	case CmdStart:
		res, err = h.reg.Subscribe(ctx, id)
	case CmdStop:
		res, err = h.reg.Unsubscribe(ctx, id)
	}
	if err != nil {
		log.Error("command not persisted", logx.Err(err))
		return ReplySaveFailed, true
	}
	log.Debug("command handled", logx.String("result", res.String()))

	switch res {
	case subscribers.Added:
		return ReplySubscribed, true
	case subscribers.AlreadyPresent:
		return ReplyAlreadySubscribed, true
	case subscribers.Removed:
		return ReplyUnsubscribed, true
	default:
		return ReplyNotSubscribed, true
	}
}

// parse accepts exactly "/start" or "/stop", case-insensitive, with an optional
// "@<bot>" suffix naming this bot. Surrounding whitespace is not stripped.
func (h *Handler) parse(text string) (string, bool) {
	s := strings.ToLower(text)
	if name, target, found := strings.Cut(s, "@"); found {
		if h.botName == "" || target != h.botName {
			return "", false
		}
		s = name
	}
	switch s {
	case CmdStart, CmdStop:
		return s, true
	}
	return "", false
}

// Run consumes updates until ctx is done or updates is closed, replying in the
// originating chat.
func (h *Handler) Run(ctx context.Context, updates <-chan kit.Update, out Replier) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.Kind != kit.UpdateMessage || u.Message == nil {
				continue
			}
			reply, handled := h.Handle(ctx, u.Message)
			if !handled {
				continue
			}
			to := kit.ChatTarget{ChatID: u.Message.ChatID}
			if _, err := out.SendText(ctx, to, reply, nil); err != nil {
				h.log.Warn("reply failed", logx.Int64("chat_id", to.ChatID), logx.Err(err))
			}
		}
	}
}
