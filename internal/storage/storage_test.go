package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/alicebob/miniredis/v2"

	logx "shopwatch/pkg/logx"
)

func openTestStores(t *testing.T) map[string]func() Store {
	t.Helper()
	dir := t.TempDir()
	mr := miniredis.RunT(t)

	open := func(cfg Config) func() Store {
		return func() Store {
			st, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open(%s): %v", cfg.Driver, err)
			}
			t.Cleanup(func() { _ = st.Close() })
			return st
		}
	}
	return map[string]func() Store{
		"file":   open(Config{Driver: "file", Path: filepath.Join(dir, "subs.json")}),
		"sqlite": open(Config{Driver: "sqlite", Path: filepath.Join(dir, "subs.db")}),
		"redis":  open(Config{Driver: "redis", RedisAddr: mr.Addr(), RedisKey: "test:subs"}),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, open := range openTestStores(t) {
		t.Run(name, func(t *testing.T) {
			st := open()

			ids, existed, err := st.Load(ctx)
			if err != nil {
				t.Fatalf("first Load: %v", err)
			}
			if existed || len(ids) != 0 {
				t.Fatalf("first Load = %v (existed=%v), want empty and not existed", ids, existed)
			}

			want := []string{"user1", "user2", "user3"}
			if err := st.Save(ctx, want); err != nil {
				t.Fatalf("Save: %v", err)
			}
			got, existed, err := open().Load(ctx)
			if err != nil {
				t.Fatalf("reload: %v", err)
			}
			if !existed {
				t.Fatal("reload should report existing data")
			}
			if !reflect.DeepEqual(got, want) {
				t.Fatalf("reload = %v, want %v", got, want)
			}

			if err := st.Save(ctx, nil); err != nil {
				t.Fatalf("Save empty: %v", err)
			}
			got, existed, err = open().Load(ctx)
			if err != nil {
				t.Fatalf("reload empty: %v", err)
			}
			if !existed || len(got) != 0 {
				t.Fatalf("reload empty = %v (existed=%v)", got, existed)
			}
		})
	}
}

func TestFileStoreInitializesEmptyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "subscribers.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, _, err := st.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "[]" {
		t.Fatalf("file = %q, want []", b)
	}
}

func TestFileStoreWritesJSONArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscribers.json")
	st, _ := Open(Config{Path: path}, logx.Nop())
	if err := st.Save(context.Background(), []string{"user1"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	b, _ := os.ReadFile(path)
	if string(b) != `["user1"]` {
		t.Fatalf("file = %q", b)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}

func TestFileStoreCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscribers.json")
	if err := os.WriteFile(path, []byte(`{"not":"an array"}`), 0o600); err != nil {
		t.Fatal(err)
	}
	st, _ := Open(Config{Path: path}, logx.Nop())
	_, existed, err := st.Load(context.Background())
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Load err = %v, want ErrCorrupt", err)
	}
	if !existed {
		t.Fatal("corrupt file still exists")
	}
	b, _ := os.ReadFile(path)
	if string(b) != `{"not":"an array"}` {
		t.Fatalf("corrupt file was overwritten: %q", b)
	}
}

func TestRedisStoreWrongType(t *testing.T) {
	mr := miniredis.RunT(t)
	if err := mr.Set("test:subs", "scalar"); err != nil {
		t.Fatal(err)
	}
	st, err := Open(Config{Driver: "redis", RedisAddr: mr.Addr(), RedisKey: "test:subs"}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()
	if _, _, err := st.Load(context.Background()); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Load err = %v, want ErrCorrupt", err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
