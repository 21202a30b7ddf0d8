package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"shopwatch/internal/catalog"
	"shopwatch/internal/commands"
	"shopwatch/internal/config"
	"shopwatch/internal/storage"
	kit "shopwatch/internal/transport"
	logx "shopwatch/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	out     chan<- kit.Update
	texts   map[int64][]string
	photos  map[int64][]string
	menu    []kit.BotCommand
	gone    map[int64]bool
	stopped bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{texts: map[int64][]string{}, photos: map[int64][]string{}, gone: map[int64]bool{}}
}

func (f *fakeAdapter) Start(_ context.Context, out chan<- kit.Update) error {
	f.mu.Lock()
	f.out = out
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Stop(context.Context) error {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts[to.ChatID] = append(f.texts[to.ChatID], text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) SendPhoto(_ context.Context, to kit.ChatTarget, url, caption string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos[to.ChatID] = append(f.photos[to.ChatID], url)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeAdapter) ResolveChat(_ context.Context, id string) (kit.ChatTarget, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return kit.ChatTarget{}, kit.ErrUnresolvable
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[n] {
		return kit.ChatTarget{}, kit.ErrUnresolvable
	}
	return kit.ChatTarget{ChatID: n}, nil
}

func (f *fakeAdapter) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.menu = cmds
	f.mu.Unlock()
	return nil
}

func (f *fakeAdapter) Username() string { return "shopwatch_bot" }

func (f *fakeAdapter) send(chatID int64, text string) {
	f.mu.Lock()
	out := f.out
	f.mu.Unlock()
	out <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: chatID, FromID: chatID, Text: text, Private: true}}
}

func (f *fakeAdapter) textsFor(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts[chatID]...)
}

func (f *fakeAdapter) photoCount(chatID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.photos[chatID])
}

func shopServer(t *testing.T, body *[]byte, mu *sync.Mutex) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if body == nil || *body == nil {
			http.Error(w, "down", http.StatusBadGateway)
			return
		}
		_, _ = w.Write(*body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	app     *App
	chat    *fakeAdapter
	path    string
	setShop func(string)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	t.Setenv("NOTIFY_SOCKET", "")

	var (
		mu   sync.Mutex
		body []byte
	)
	srv := shopServer(t, &body, &mu)

	cfgm := config.NewManager("")
	if _, err := cfgm.Load(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "subscribers.json")
	store, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	chat := newFakeAdapter()
	client := catalog.NewClient(catalog.ClientConfig{URL: srv.URL, APIKey: "k"}, logx.Nop())
	a := build(cfgm, config.Secrets{}, deps{adapter: chat, fetcher: client, store: store})

	return &harness{
		app:  a,
		chat: chat,
		path: path,
		setShop: func(data string) {
			mu.Lock()
			defer mu.Unlock()
			if data == "" {
				body = nil
				return
			}
			body = []byte(`{"status":200,"data":` + data + `}`)
		},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

const (
	shopOne = `{"featured":{"entries":[
		{"finalPrice":800,"items":[{"name":"Wave","rarity":{"displayValue":"Rare"},"images":{"icon":"https://img.example/w.png"}}]},
		{"finalPrice":500,"items":[{"name":"Spin","rarity":{"displayValue":"Common"}}]}
	]}}`
	shopTwo = `{"featured":{"entries":[
		{"finalPrice":900,"items":[{"name":"Wave","rarity":{"displayValue":"Rare"},"images":{"icon":"https://img.example/w.png"}}]}
	]}}`
)

func TestEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.app.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() {
		stopCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = h.app.Stop(stopCtx, StopSignal)
	}()

	if len(h.chat.menu) != len(commands.Menu) {
		t.Fatalf("menu = %v", h.chat.menu)
	}

	// Three users subscribe; one later becomes unreachable.
	for _, id := range []int64{1, 2, 3} {
		h.chat.send(id, "/start")
	}
	waitFor(t, "subscribe replies", func() bool { return len(h.chat.textsFor(3)) == 1 })
	if got := h.chat.textsFor(1)[0]; got != commands.ReplySubscribed {
		t.Fatalf("reply = %q", got)
	}
	raw, err := os.ReadFile(h.path)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `["1","2","3"]` {
		t.Fatalf("store = %s", raw)
	}

	// Cold start: first successful poll dispatches.
	h.chat.mu.Lock()
	h.chat.gone[2] = true
	h.chat.mu.Unlock()
	h.setShop(shopOne)
	h.app.tick(ctx)

	rep, ok := h.app.dispatcher.Last()
	if !ok || rep.Sent != 4 || rep.Unresolved != 1 || rep.Items != 2 {
		t.Fatalf("report = %+v", rep)
	}
	if h.chat.photoCount(1) != 1 || len(h.chat.textsFor(1)) != 2 {
		t.Fatalf("chat 1 got photos=%d texts=%v", h.chat.photoCount(1), h.chat.textsFor(1))
	}

	// Same content: nothing sent.
	h.app.tick(ctx)
	if rep2, _ := h.app.dispatcher.Last(); rep2.ID != rep.ID {
		t.Fatal("unchanged catalog dispatched")
	}

	// Outage: previous snapshot kept, nothing sent.
	h.setShop("")
	h.app.tick(ctx)
	if h.app.lastPoll.Outcome != catalog.FetchFailed {
		t.Fatalf("outcome = %s", h.app.lastPoll.Outcome)
	}
	if rep2, _ := h.app.dispatcher.Last(); rep2.ID != rep.ID {
		t.Fatal("failed fetch dispatched")
	}

	// Price change after recovery: dispatched again.
	h.setShop(shopTwo)
	h.app.tick(ctx)
	rep3, _ := h.app.dispatcher.Last()
	if rep3.ID == rep.ID || rep3.Items != 1 {
		t.Fatalf("report = %+v", rep3)
	}

	doc, healthy := h.app.health()
	if !healthy || doc.(Health).Subscribers != 3 || doc.(Health).LastPoll != "changed" {
		t.Fatalf("health = %+v %v", doc, healthy)
	}
}

func TestStartRefusesCorruptStore(t *testing.T) {
	h := newHarness(t)
	if err := os.WriteFile(h.path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	err := h.app.Start(context.Background())
	if !errors.Is(err, storage.ErrCorrupt) {
		t.Fatalf("err = %v, want ErrCorrupt", err)
	}
	raw, _ := os.ReadFile(h.path)
	if string(raw) != "{not json" {
		t.Fatal("corrupt store was overwritten")
	}
}

func TestReloadAppliesLiveSettings(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.app.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = h.app.Stop(context.Background(), StopSignal) }()

	before := h.app.sched.Next(pollJob)
	next := *config.Default()
	next.Poll.Interval = "1h"
	h.app.apply(ctx, config.Default(), &next)
	after := h.app.sched.Next(pollJob)
	if !after.After(before) {
		t.Fatalf("next poll %s not moved past %s", after, before)
	}
}

func TestCheckReloadRejectsUnusableConfig(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := h.app.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = h.app.Stop(context.Background(), StopSignal) }()

	if err := h.app.checkReload(ctx, config.Default()); err != nil {
		t.Fatalf("defaults rejected: %v", err)
	}

	never := *config.Default()
	never.Poll.Interval = "0 0 30 2 *"
	if err := h.app.checkReload(ctx, &never); err == nil {
		t.Fatal("schedule that never fires accepted")
	}

	public := *config.Default()
	public.Server.Enabled = true
	public.Server.Addr = "0.0.0.0:9090"
	if err := h.app.checkReload(ctx, &public); err == nil {
		t.Fatal("public bind without token accepted")
	}
	public.Server.AllowInsecure = true
	if err := h.app.checkReload(ctx, &public); err != nil {
		t.Fatalf("allowed public bind rejected: %v", err)
	}
}
