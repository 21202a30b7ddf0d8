// Package transport holds the platform-neutral chat types shared by the
// command handler, the dispatcher and the chat adapter.
package transport

import (
	"context"
	"errors"
)

type UpdateKind string

const UpdateMessage UpdateKind = "message"

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	// Private is true for one-to-one chats with the bot.
	Private bool
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// ErrUnresolvable is returned by a Resolver when a recipient id no longer maps
// to a reachable chat.
var ErrUnresolvable = errors.New("recipient not resolvable")

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendPhoto(ctx context.Context, to ChatTarget, photoURL, caption string, opt *SendOptions) (MessageRef, error)
}

// Resolver turns an opaque recipient identifier into a deliverable chat.
type Resolver interface {
	ResolveChat(ctx context.Context, id string) (ChatTarget, error)
}

// BotCommand represents a single bot command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface adapters implement to publish the
// platform command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
