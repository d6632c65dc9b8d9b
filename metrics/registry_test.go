package metrics

import (
	"sync"
	"testing"
)

func init() {
	Enabled = true
}

func TestRegistryGetOrRegister(t *testing.T) {
	r := NewRegistry()

	first := GetOrRegisterCounter("refill/submitted", r)
	first.Inc(3)

	second := GetOrRegisterCounter("refill/submitted", r)
	if have, want := second.Count(), int64(3); have != want {
		t.Fatalf("count: have %d, want %d", have, want)
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("refill/submitted", NewCounter()); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register("refill/submitted", NewCounter())
	if _, ok := err.(DuplicateMetric); !ok {
		t.Fatalf("second register: have %v, want DuplicateMetric", err)
	}
}

func TestRegistryEachSorted(t *testing.T) {
	r := NewRegistry()
	NewRegisteredCounter("b", r)
	NewRegisteredCounter("a", r)
	NewRegisteredGauge("c", r)

	var names []string
	r.Each(func(name string, i interface{}) {
		names = append(names, name)
	})
	if len(names) != 3 || names[0] != "a" || names[1] != "b" || names[2] != "c" {
		t.Fatalf("names: have %v, want [a b c]", names)
	}
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry()
	NewRegisteredCounter("refill/failed", r)
	r.Unregister("refill/failed")
	if m := r.Get("refill/failed"); m != nil {
		t.Fatalf("metric survived unregister: %v", m)
	}
}

func TestCounter(t *testing.T) {
	c := NewCounter()
	c.Inc(5)
	c.Dec(2)
	if have, want := c.Count(), int64(3); have != want {
		t.Fatalf("count: have %d, want %d", have, want)
	}

	snap := c.Snapshot()
	c.Inc(10)
	if have, want := snap.Count(), int64(3); have != want {
		t.Fatalf("snapshot count: have %d, want %d", have, want)
	}

	c.Clear()
	if have := c.Count(); have != 0 {
		t.Fatalf("count after clear: have %d, want 0", have)
	}
}

func TestGauge(t *testing.T) {
	g := NewGauge()
	g.Update(42)
	if have, want := g.Value(), int64(42); have != want {
		t.Fatalf("value: have %d, want %d", have, want)
	}

	snap := g.Snapshot()
	g.Update(7)
	if have, want := snap.Value(), int64(42); have != want {
		t.Fatalf("snapshot value: have %d, want %d", have, want)
	}
}

// exercise race detector.
func TestCounterConcurrency(t *testing.T) {
	c := NewCounter()
	wg := &sync.WaitGroup{}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			c.Inc(1)
			wg.Done()
		}()
	}
	wg.Wait()
	if have, want := c.Count(), int64(100); have != want {
		t.Fatalf("count: have %d, want %d", have, want)
	}
}
