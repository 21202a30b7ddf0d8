package subscribers

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"shopwatch/internal/eventbus"
	"shopwatch/internal/storage"
	logx "shopwatch/pkg/logx"
)

// memStore is an in-memory storage.Store that counts saves and can fail on demand.
type memStore struct {
	ids     []string
	existed bool
	saves   int
	failErr error
}

func (m *memStore) Load(ctx context.Context) ([]string, bool, error) {
	return append([]string(nil), m.ids...), m.existed, nil
}

func (m *memStore) Save(ctx context.Context, ids []string) error {
	if m.failErr != nil {
		return m.failErr
	}
	m.saves++
	m.ids = append([]string(nil), ids...)
	m.existed = true
	return nil
}

func (m *memStore) Close() error { return nil }

type gauge struct{ v float64 }

func (g *gauge) Set(v float64) { g.v = v }

func TestSubscribeUnsubscribeReplay(t *testing.T) {
	t.Parallel()
	type op struct {
		subscribe bool
		want      Result
	}
	tests := []struct {
		name  string
		ops   []op
		final []string
		saves int
	}{
		{
			name:  "subscribe twice",
			ops:   []op{{true, Added}, {true, AlreadyPresent}},
			final: []string{"user1"},
			saves: 1,
		},
		{
			name:  "unsubscribe twice",
			ops:   []op{{true, Added}, {false, Removed}, {false, NotPresent}},
			final: []string{},
			saves: 2,
		},
		{
			name:  "unsubscribe unknown",
			ops:   []op{{false, NotPresent}},
			final: []string{},
			saves: 0,
		},
		{
			name:  "resubscribe",
			ops:   []op{{true, Added}, {false, Removed}, {true, Added}, {true, AlreadyPresent}},
			final: []string{"user1"},
			saves: 3,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := &memStore{}
			r := New(st, logx.Nop())
			for i, o := range tt.ops {
				var (
					got Result
					err error
				)
				if o.subscribe {
					got, err = r.Subscribe(ctx, "user1")
				} else {
					got, err = r.Unsubscribe(ctx, "user1")
				}
				if err != nil {
					t.Fatalf("op %d: %v", i, err)
				}
				if got != o.want {
					t.Fatalf("op %d = %s, want %s", i, got, o.want)
				}
			}
			snap := r.Snapshot()
			if snap == nil {
				snap = []string{}
			}
			if !reflect.DeepEqual(snap, tt.final) {
				t.Fatalf("Snapshot = %v, want %v", snap, tt.final)
			}
			if st.saves != tt.saves {
				t.Fatalf("saves = %d, want %d", st.saves, tt.saves)
			}
		})
	}
}

func TestSubscribeRollsBackOnSaveError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	diskFull := errors.New("disk full")
	st := &memStore{}
	r := New(st, logx.Nop())

	if _, err := r.Subscribe(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	st.failErr = diskFull

	if _, err := r.Subscribe(ctx, "b"); !errors.Is(err, diskFull) {
		t.Fatalf("Subscribe err = %v, want %v", err, diskFull)
	}
	if r.Contains("b") {
		t.Fatal("failed subscribe must not stay in memory")
	}
	if _, err := r.Unsubscribe(ctx, "a"); !errors.Is(err, diskFull) {
		t.Fatalf("Unsubscribe err = %v, want %v", err, diskFull)
	}
	if !r.Contains("a") {
		t.Fatal("failed unsubscribe must not remove from memory")
	}
}

func TestLoadCollapsesDuplicates(t *testing.T) {
	t.Parallel()
	g := &gauge{}
	r := New(&memStore{ids: []string{"a", "b", "a"}, existed: true}, logx.Nop(), WithGauge(g))
	ids, err := r.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []string{"a", "b"}) {
		t.Fatalf("Load = %v", ids)
	}
	if g.v != 2 {
		t.Fatalf("gauge = %v, want 2", g.v)
	}
}

func TestPublishesEvents(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()
	r := New(&memStore{}, logx.Nop(), WithBus(bus))
	ctx := context.Background()
	_, _ = r.Subscribe(ctx, "u")
	_, _ = r.Subscribe(ctx, "u")
	_, _ = r.Unsubscribe(ctx, "u")

	want := []string{eventbus.SubscriberAdded, eventbus.SubscriberRemoved}
	for _, w := range want {
		e := <-ch
		if e.Type != w {
			t.Fatalf("event = %s, want %s", e.Type, w)
		}
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %s", e.Type)
	default:
	}
}

// Scenario A and B against the JSON file backend.
func TestFileBackedScenarios(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "subscribers.json")
	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	r := New(st, logx.Nop())
	if _, err := r.Load(ctx); err != nil {
		t.Fatal(err)
	}

	res, err := r.Subscribe(ctx, "user1")
	if err != nil || res != Added {
		t.Fatalf("Subscribe = %s, %v", res, err)
	}
	assertFile(t, path, `["user1"]`)

	res, err = r.Subscribe(ctx, "user1")
	if err != nil || res != AlreadyPresent {
		t.Fatalf("second Subscribe = %s, %v", res, err)
	}
	assertFile(t, path, `["user1"]`)

	// Round trip: a fresh registry over the same file sees the same set.
	_, _ = r.Subscribe(ctx, "user2")
	r2 := New(st, logx.Nop())
	ids, err := r2.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(ids)
	if !reflect.DeepEqual(ids, []string{"user1", "user2"}) {
		t.Fatalf("reloaded = %v", ids)
	}
}

func TestLoadCorruptIsError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscribers.json")
	if err := os.WriteFile(path, []byte("not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	st, _ := storage.Open(storage.Config{Path: path}, logx.Nop())
	if _, err := New(st, logx.Nop()).Load(context.Background()); !errors.Is(err, storage.ErrCorrupt) {
		t.Fatalf("Load err = %v, want ErrCorrupt", err)
	}
}

func assertFile(t *testing.T, path, want string) {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != want {
		t.Fatalf("file = %s, want %s", b, want)
	}
}
