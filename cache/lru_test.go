package cache

import (
	"testing"
	"time"
)

func TestGetPopulatesOnMiss(t *testing.T) {
	calls := 0
	c := New[string, int](4, func(key string) (int, bool) {
		calls++
		return len(key), true
	}, nil)

	v, ok := c.Get("hello")
	if !ok || v != 5 {
		t.Fatalf("Get() = (%v, %v), want (5, true)", v, ok)
	}
	v, ok = c.Get("hello")
	if !ok || v != 5 || calls != 1 {
		t.Fatalf("expected cached hit without a second populate call, calls=%d", calls)
	}
}

func TestDontPopulateSentinel(t *testing.T) {
	c := New[string, int](4, func(key string) (int, bool) {
		return 0, false
	}, nil)

	_, ok := c.Get("x")
	if ok {
		t.Fatalf("expected DONT_POPULATE miss to report ok=false")
	}
	if c.Len() != 0 {
		t.Fatalf("DONT_POPULATE must not cache an entry, Len()=%d", c.Len())
	}
}

func TestEvictionAtCapacity(t *testing.T) {
	var expired []string
	c := New[string, int](2, func(key string) (int, bool) {
		return len(key), true
	}, func(key string, value int) bool {
		expired = append(expired, key)
		return true
	})

	c.Get("a")
	time.Sleep(time.Millisecond)
	c.Get("bb")
	time.Sleep(time.Millisecond)
	c.Get("ccc") // evicts "a", the oldest

	if len(expired) != 1 || expired[0] != "a" {
		t.Fatalf("expected eviction of %q, got %v", "a", expired)
	}
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if _, ok := c.Get("bb"); !ok {
		t.Errorf("expected %q to survive eviction", "bb")
	}
}

func TestDontExpireSentinelSparesEntry(t *testing.T) {
	spared := map[string]bool{"a": true}
	var evicted []string
	c := New[string, int](2, func(key string) (int, bool) {
		return len(key), true
	}, func(key string, value int) bool {
		if spared[key] {
			return false // DONT_EXPIRE
		}
		evicted = append(evicted, key)
		return true
	})

	c.Get("a")
	time.Sleep(time.Millisecond)
	c.Get("bb")
	time.Sleep(time.Millisecond)
	c.Get("ccc")

	if _, ok := c.Get("a"); !ok {
		t.Errorf("expected DONT_EXPIRE to spare %q", "a")
	}
	for _, k := range evicted {
		if k == "a" {
			t.Errorf("expire callback fired eviction for spared key %q", "a")
		}
	}
}

func TestDontExpireEverywhereStillBoundsCapacity(t *testing.T) {
	c := New[string, int](2, func(key string) (int, bool) {
		return len(key), true
	}, func(key string, value int) bool {
		return false // every entry declines eviction
	})

	c.Get("a")
	time.Sleep(time.Millisecond)
	c.Get("bb")
	time.Sleep(time.Millisecond)
	c.Get("ccc") // must not recurse forever; one entry is forced out

	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want the capacity bound to hold", c.Len())
	}
}

func TestDirtyFlagForcesOneRepopulate(t *testing.T) {
	value := 1
	calls := 0
	c := New[string, int](4, func(key string) (int, bool) {
		calls++
		return value, true
	}, nil)

	c.Get("k")
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}

	value = 2
	c.SetPopulateCallback(func(key string) (int, bool) {
		calls++
		return value, true
	})

	v, ok := c.Get("k")
	if !ok || v != 2 {
		t.Fatalf("expected dirty cache to repopulate with new callback, got (%v, %v)", v, ok)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 after dirty repopulate", calls)
	}

	// Dirty bit should have cleared: a further Get must not call populate again.
	c.Get("k")
	if calls != 2 {
		t.Fatalf("calls = %d, want 2 (dirty bit should have cleared)", calls)
	}
}

func TestExpireItemPopsOldest(t *testing.T) {
	c := New[string, int](4, nil, nil)
	c.Set("a", 1)
	time.Sleep(time.Millisecond)
	c.Set("b", 2)

	key, value, ok := c.ExpireItem()
	if !ok || key != "a" || value != 1 {
		t.Fatalf("ExpireItem() = (%v, %v, %v), want (a, 1, true)", key, value, ok)
	}
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
}

func TestMaximumAgeExpiresOnGet(t *testing.T) {
	calls := 0
	c := New[string, int](4, func(key string) (int, bool) {
		calls++
		return 42, true
	}, nil)
	c.SetMaximumAge(time.Millisecond)

	c.Get("k")
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
	time.Sleep(5 * time.Millisecond)

	v, ok := c.Get("k")
	if !ok || v != 42 || calls != 2 {
		t.Fatalf("expected aged-out entry to repopulate, got (%v, %v) calls=%d", v, ok, calls)
	}
}
