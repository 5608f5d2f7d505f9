package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/motorcart-next/internal/config"
)

func TestDisabledStoreIsNoop(t *testing.T) {
	store := NewStore(&config.RedisConfig{Enabled: false})
	if store.Enabled() {
		t.Fatalf("store should be disabled")
	}
	if store.Client() != nil {
		t.Fatalf("disabled store should not expose a client")
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping on disabled store failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close on disabled store failed: %v", err)
	}
	if store.buildKey(" cart:1 ") != "mc:cart:1" {
		t.Fatalf("unexpected key: %s", store.buildKey(" cart:1 "))
	}
}

func TestDisabledDeduperAlwaysFirst(t *testing.T) {
	d := NewDeduper(NewStore(nil), 0)
	for i := 0; i < 2; i++ {
		first, err := d.MarkOnce(context.Background(), "payment", "evt_1")
		if err != nil || !first {
			t.Fatalf("disabled deduper should report first, got %v %v", first, err)
		}
	}
}

func TestNewLockerFallsBackToKeyedMutex(t *testing.T) {
	if _, ok := NewLocker(NewStore(nil), time.Second).(*KeyedMutex); !ok {
		t.Fatalf("expected keyed mutex when redis disabled")
	}
}

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	m := NewKeyedMutex()
	var inside int32
	var maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(context.Background(), "cart:1")
			if err != nil {
				t.Errorf("lock failed: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("same key should be exclusive, max concurrent=%d", maxInside)
	}
	if len(m.locks) != 0 {
		t.Fatalf("lock entries should be cleaned up, left=%d", len(m.locks))
	}
}

func TestKeyedMutexRespectsContext(t *testing.T) {
	m := NewKeyedMutex()
	unlock, err := m.Lock(context.Background(), "cart:2")
	if err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.Lock(ctx, "cart:2"); !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired, got %v", err)
	}
	// 不同键互不影响
	other, err := m.Lock(context.Background(), "cart:3")
	if err != nil {
		t.Fatalf("different key should lock: %v", err)
	}
	other()
}
