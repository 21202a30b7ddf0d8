package commands

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"shopwatch/internal/storage"
	"shopwatch/internal/subscribers"
	kit "shopwatch/internal/transport"
	logx "shopwatch/pkg/logx"
)

type failingStore struct{}

func (failingStore) Load(context.Context) ([]string, bool, error) { return nil, false, nil }
func (failingStore) Save(context.Context, []string) error         { return errors.New("disk full") }
func (failingStore) Close() error                                 { return nil }

func newHandler(t *testing.T) (*Handler, *subscribers.Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "subscribers.json")
	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	reg := subscribers.New(st, logx.Nop())
	if _, err := reg.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	return New(reg, "ShopWatchBot", logx.Nop()), reg, path
}

func dm(chatID int64, text string) *kit.Message {
	return &kit.Message{ChatID: chatID, FromID: chatID, Text: text, Private: true}
}

func TestHandleScenario(t *testing.T) {
	h, reg, _ := newHandler(t)
	ctx := context.Background()

	steps := []struct {
		text  string
		reply string
	}{
		{"/start", ReplySubscribed},
		{"/start", ReplyAlreadySubscribed},
		{"/STOP", ReplyUnsubscribed},
		{"/stop", ReplyNotSubscribed},
		{"/Start@shopwatchbot", ReplySubscribed},
	}
	for i, s := range steps {
		got, handled := h.Handle(ctx, dm(42, s.text))
		if !handled || got != s.reply {
			t.Fatalf("step %d %q = (%q, %v), want %q", i, s.text, got, handled, s.reply)
		}
	}
	if ids := reg.Snapshot(); len(ids) != 1 || ids[0] != "42" {
		t.Fatalf("subscribers = %v", ids)
	}
}

func TestHandleIgnores(t *testing.T) {
	h, reg, _ := newHandler(t)
	ctx := context.Background()

	group := &kit.Message{ChatID: -100, Text: "/start", Private: false}
	cases := []*kit.Message{
		nil,
		group,
		dm(1, "hello"),
		dm(1, "/start now"),
		dm(1, "/starting"),
		dm(1, "start"),
		dm(1, "/start@otherbot"),
		dm(1, " /start "),
		dm(1, "/start\n"),
		dm(1, "\t/stop"),
		dm(1, ""),
	}
	for _, m := range cases {
		if reply, handled := h.Handle(ctx, m); handled || reply != "" {
			t.Fatalf("Handle(%+v) = (%q, %v), want ignored", m, reply, handled)
		}
	}
	if n := reg.Count(); n != 0 {
		t.Fatalf("count = %d", n)
	}
}

func TestHandleStorageFailure(t *testing.T) {
	reg := subscribers.New(failingStore{}, logx.Nop())
	h := New(reg, "bot", logx.Nop())

	reply, handled := h.Handle(context.Background(), dm(7, "/start"))
	if !handled || reply != ReplySaveFailed {
		t.Fatalf("reply = %q, %v", reply, handled)
	}
	if reg.Contains("7") {
		t.Fatal("failed subscribe must not stick")
	}
}

type replies struct {
	mu  sync.Mutex
	got []string
	to  []int64
}

func (r *replies) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, text)
	r.to = append(r.to, to.ChatID)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func TestRunRepliesInChat(t *testing.T) {
	h, _, _ := newHandler(t)
	updates := make(chan kit.Update, 4)
	out := &replies{}

	updates <- kit.Update{Kind: kit.UpdateMessage, Message: dm(5, "/start")}
	updates <- kit.Update{Kind: kit.UpdateMessage, Message: dm(5, "ignored")}
	updates <- kit.Update{Kind: kit.UpdateMessage, Message: dm(6, "/stop")}
	close(updates)

	done := make(chan struct{})
	go func() {
		h.Run(context.Background(), updates, out)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after updates closed")
	}

	if len(out.got) != 2 || out.got[0] != ReplySubscribed || out.got[1] != ReplyNotSubscribed {
		t.Fatalf("replies = %v", out.got)
	}
	if out.to[0] != 5 || out.to[1] != 6 {
		t.Fatalf("reply chats = %v", out.to)
	}
}
