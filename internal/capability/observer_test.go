package capability

import (
	"reflect"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-hap/internal/device"
	"github.com/nerrad567/gray-logic-hap/internal/sched"
)

func newTestDevice(values map[string]any) *device.MemoryDevice {
	return device.NewMemoryDevice(device.Descriptor{
		ID:           "lamp-1",
		Class:        "light",
		Capabilities: []string{"onoff", "dim"},
		Values:       values,
	})
}

func newTestObserver(dev *device.MemoryDevice) (*Observer, *sched.Manual) {
	clock := sched.NewManual(time.Unix(0, 0))
	return New(dev, Options{Scheduler: clock}), clock
}

func TestObserve_SharesOneSubscription(t *testing.T) {
	dev := newTestDevice(nil)
	obs, _ := newTestObserver(dev)

	var first, second []any
	id1 := obs.Observe("onoff", func(v any) { first = append(first, v) })
	id2 := obs.Observe("onoff", func(v any) { second = append(second, v) })
	id3 := obs.Observe("onoff", func(any) {})

	if n := dev.SubscribeCalls("onoff"); n != 1 {
		t.Fatalf("SubscribeCalls = %d, want 1", n)
	}

	dev.Push("onoff", true)
	if !reflect.DeepEqual(first, []any{true}) || !reflect.DeepEqual(second, []any{true}) {
		t.Errorf("listeners received %v / %v, want [true]", first, second)
	}

	obs.Unobserve("onoff", id1)
	obs.Unobserve("onoff", id2)
	if dev.ActiveSubscriptions("onoff") != 1 {
		t.Fatal("subscription stopped while a listener remains")
	}
	obs.Unobserve("onoff", id3)
	if dev.ActiveSubscriptions("onoff") != 0 {
		t.Error("subscription not stopped after the last listener")
	}
	if _, ok := obs.Status("onoff"); ok {
		t.Error("state kept after the last listener")
	}
}

func TestObserve_ReplaysKnownValue(t *testing.T) {
	dev := newTestDevice(map[string]any{"dim": 0.3})
	obs, _ := newTestObserver(dev)

	var got []any
	obs.Observe("dim", func(v any) { got = append(got, v) })
	if !reflect.DeepEqual(got, []any{0.3}) {
		t.Fatalf("first listener got %v, want cached [0.3]", got)
	}

	dev.Push("dim", 0.8)
	var late []any
	obs.Observe("dim", func(v any) { late = append(late, v) })
	if !reflect.DeepEqual(late, []any{0.8}) {
		t.Errorf("late listener got %v, want [0.8]", late)
	}
}

func TestObserve_NoReplayWithoutValue(t *testing.T) {
	obs, _ := newTestObserver(newTestDevice(nil))
	called := false
	obs.Observe("onoff", func(any) { called = true })
	if called {
		t.Error("listener called without a known value")
	}
}

func TestObserve_RetryBackoffThenDegraded(t *testing.T) {
	dev := newTestDevice(map[string]any{"onoff": false})
	dev.FailSubscribes(10)
	obs, clock := newTestObserver(dev)

	obs.Observe("onoff", func(any) {})

	st, _ := obs.Status("onoff")
	if st.State != StateAttempting || st.Attempts != 1 {
		t.Fatalf("status after first failure = %+v", st)
	}

	clock.Advance(time.Second)
	clock.Advance(2 * time.Second)
	clock.Advance(4 * time.Second)

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	if got := clock.Delays(); !reflect.DeepEqual(got, want) {
		t.Errorf("retry delays = %v, want %v", got, want)
	}
	if n := dev.SubscribeCalls("onoff"); n != 4 {
		t.Errorf("SubscribeCalls = %d, want 4 (initial + 3 retries)", n)
	}

	st, _ = obs.Status("onoff")
	if !st.Degraded() || st.Attempts != 3 {
		t.Errorf("status = %+v, want degraded after 3 retries", st)
	}
	if clock.Pending() != 0 {
		t.Errorf("pending timers = %d after degrading", clock.Pending())
	}
	if v, ok := obs.CurrentValue("onoff"); !ok || v != false {
		t.Errorf("degraded CurrentValue = %v, %v; want cached false", v, ok)
	}
}

func TestObserve_RetryRecovers(t *testing.T) {
	dev := newTestDevice(nil)
	dev.FailSubscribes(1)
	obs, clock := newTestObserver(dev)

	var got []any
	obs.Observe("dim", func(v any) { got = append(got, v) })
	clock.Advance(time.Second)

	st, _ := obs.Status("dim")
	if st.State != StateActive {
		t.Fatalf("state = %v, want active", st.State)
	}
	dev.Push("dim", 1.0)
	if !reflect.DeepEqual(got, []any{1.0}) {
		t.Errorf("listener got %v", got)
	}
}

func TestUnobserve_CancelsPendingRetry(t *testing.T) {
	dev := newTestDevice(nil)
	dev.FailSubscribes(1)
	obs, clock := newTestObserver(dev)

	id := obs.Observe("dim", func(any) {})
	if clock.Pending() != 1 {
		t.Fatalf("pending timers = %d, want 1", clock.Pending())
	}
	obs.Unobserve("dim", id)
	if clock.Pending() != 0 {
		t.Error("retry still scheduled after unobserve")
	}
	clock.Advance(time.Minute)
	if n := dev.SubscribeCalls("dim"); n != 1 {
		t.Errorf("SubscribeCalls = %d, want 1", n)
	}
}

func TestObserve_ListenerPanicRecovered(t *testing.T) {
	dev := newTestDevice(nil)
	obs, _ := newTestObserver(dev)

	var after []any
	obs.Observe("onoff", func(any) { panic("boom") })
	obs.Observe("onoff", func(v any) { after = append(after, v) })

	dev.Push("onoff", true)
	if !reflect.DeepEqual(after, []any{true}) {
		t.Errorf("listener after a panicking one got %v", after)
	}
}

func TestCleanupAll(t *testing.T) {
	dev := newTestDevice(nil)
	obs, _ := newTestObserver(dev)
	obs.Observe("onoff", func(any) {})
	obs.Observe("dim", func(any) {})

	if got := obs.ObservedCapabilities(); !reflect.DeepEqual(got, []string{"dim", "onoff"}) {
		t.Errorf("ObservedCapabilities() = %v", got)
	}

	obs.CleanupAll()
	if dev.ActiveSubscriptions("onoff")+dev.ActiveSubscriptions("dim") != 0 {
		t.Error("subscriptions left after CleanupAll")
	}
	if len(obs.Statuses()) != 0 {
		t.Error("statuses left after CleanupAll")
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	p := DefaultRetryPolicy()
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for attempt, w := range want {
		if got := p.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
		}
	}
}
