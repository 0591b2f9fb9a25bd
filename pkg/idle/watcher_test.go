package idle

import (
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/Veraticus/idle-watch/pkg/interfaces"
	"github.com/Veraticus/idle-watch/pkg/testutil"
)

var testMessages = Messages{Idle: "idle", Resume: "resume"}

// bind returns a seat and notifier bound on a fresh fake compositor.
func bind(t *testing.T) (*testutil.FakeCompositor, interfaces.Seat, interfaces.IdleNotifier) {
	t.Helper()
	c := testutil.NewFakeCompositor()
	seat, err := c.BindSeat(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	notifier, err := c.BindIdleNotifier(2, 1)
	if err != nil {
		t.Fatal(err)
	}
	return c, seat, notifier
}

func TestWatcher_RelaysEventsInOrder(t *testing.T) {
	c, seat, notifier := bind(t)
	reporter := testutil.NewMockReporter()
	w := NewWatcher(reporter, testMessages, nil)

	if err := w.Subscribe(notifier, seat, 1000); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if w.State() != StateSubscribed {
		t.Fatalf("State() = %v, want %v", w.State(), StateSubscribed)
	}

	c.Emit(testutil.EventIdled, testutil.EventResumed, testutil.EventIdled, testutil.EventResumed)
	for i := 0; i < 4; i++ {
		if err := c.Dispatch(); err != nil {
			t.Fatalf("Dispatch() error = %v", err)
		}
	}

	want := []string{"idle", "resume", "idle", "resume"}
	if got := reporter.Messages(); !reflect.DeepEqual(got, want) {
		t.Errorf("Messages() = %v, want %v", got, want)
	}
}

func TestWatcher_NoDeduplication(t *testing.T) {
	c, seat, notifier := bind(t)
	reporter := testutil.NewMockReporter()
	w := NewWatcher(reporter, testMessages, nil)
	_ = w.Subscribe(notifier, seat, 0)

	// The compositor should alternate, but repeats are relayed as is.
	c.Emit(testutil.EventIdled, testutil.EventIdled, testutil.EventResumed)
	for i := 0; i < 3; i++ {
		_ = c.Dispatch()
	}

	want := []string{"idle", "idle", "resume"}
	if got := reporter.Messages(); !reflect.DeepEqual(got, want) {
		t.Errorf("Messages() = %v, want %v", got, want)
	}
}

func TestWatcher_TimeoutPassedThrough(t *testing.T) {
	for _, timeout := range []uint32{0, 1, 1000, 1<<32 - 1} {
		c, seat, notifier := bind(t)
		w := NewWatcher(testutil.NewMockReporter(), testMessages, nil)
		if err := w.Subscribe(notifier, seat, timeout); err != nil {
			t.Fatalf("Subscribe(%d) error = %v", timeout, err)
		}
		if c.Timeout() != timeout {
			t.Errorf("compositor saw timeout %d, want %d", c.Timeout(), timeout)
		}
	}
}

func TestWatcher_SubscribeOnce(t *testing.T) {
	c, seat, notifier := bind(t)
	w := NewWatcher(testutil.NewMockReporter(), testMessages, nil)

	if err := w.Subscribe(notifier, seat, 1000); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := w.Subscribe(notifier, seat, 1000); !errors.Is(err, ErrAlreadySubscribed) {
		t.Errorf("second Subscribe() error = %v, want ErrAlreadySubscribed", err)
	}
	if c.Subscriptions() != 1 {
		t.Errorf("Subscriptions() = %d, want 1", c.Subscriptions())
	}

	_ = w.Teardown()
	if err := w.Subscribe(notifier, seat, 1000); !errors.Is(err, ErrTornDown) {
		t.Errorf("Subscribe() after teardown error = %v, want ErrTornDown", err)
	}
}

func TestWatcher_SubscribeError(t *testing.T) {
	c, seat, notifier := bind(t)
	c.SubscribeErr = errors.New("protocol error")
	w := NewWatcher(testutil.NewMockReporter(), testMessages, nil)

	err := w.Subscribe(notifier, seat, 1000)
	if !errors.Is(err, c.SubscribeErr) {
		t.Fatalf("Subscribe() error = %v, want wrapped %v", err, c.SubscribeErr)
	}
	if w.State() != StateUnsubscribed {
		t.Errorf("State() = %v, want %v", w.State(), StateUnsubscribed)
	}

	// Nothing to destroy.
	if err := w.Teardown(); err != nil {
		t.Errorf("Teardown() error = %v", err)
	}
	for _, op := range c.Journal() {
		if op == testutil.DestroyNotification {
			t.Error("teardown destroyed a subscription that was never created")
		}
	}
}

func TestWatcher_Teardown(t *testing.T) {
	c, seat, notifier := bind(t)
	reporter := testutil.NewMockReporter()
	w := NewWatcher(reporter, testMessages, nil)
	_ = w.Subscribe(notifier, seat, 1000)

	if err := w.Teardown(); err != nil {
		t.Fatalf("Teardown() error = %v", err)
	}
	if w.State() != StateTornDown {
		t.Errorf("State() = %v, want %v", w.State(), StateTornDown)
	}

	// Idempotent
	if err := w.Teardown(); err != nil {
		t.Errorf("second Teardown() error = %v", err)
	}

	destroys := 0
	for _, op := range c.Journal() {
		if op == testutil.DestroyNotification {
			destroys++
		}
	}
	if destroys != 1 {
		t.Errorf("subscription destroyed %d times, want 1", destroys)
	}

	// Late events are dropped.
	w.Idled()
	w.Resumed()
	if len(reporter.Messages()) != 0 {
		t.Errorf("events after teardown were reported: %v", reporter.Messages())
	}
}

func TestWatcher_EventsBeforeSubscribeDropped(t *testing.T) {
	reporter := testutil.NewMockReporter()
	w := NewWatcher(reporter, testMessages, nil)

	w.Idled()
	if len(reporter.Messages()) != 0 {
		t.Errorf("unexpected report %v", reporter.Messages())
	}
}

func TestWatcher_ReportErrorIsNotFatal(t *testing.T) {
	_, seat, notifier := bind(t)
	reporter := testutil.NewMockReporter()
	reporter.SetError(errors.New("stdout closed"))
	w := NewWatcher(reporter, testMessages, nil)
	_ = w.Subscribe(notifier, seat, 1000)

	w.Idled()
	if w.State() != StateSubscribed {
		t.Errorf("State() = %v, want %v", w.State(), StateSubscribed)
	}

	reporter.SetError(nil)
	w.Resumed()
	if got := reporter.Messages(); !reflect.DeepEqual(got, []string{"resume"}) {
		t.Errorf("Messages() = %v, want [resume]", got)
	}
}

func TestWatcher_ConcurrentTeardown(t *testing.T) {
	_, seat, notifier := bind(t)
	reporter := testutil.NewMockReporter()
	w := NewWatcher(reporter, testMessages, nil)
	_ = w.Subscribe(notifier, seat, 1000)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			w.Idled()
			w.Resumed()
		}
	}()
	_ = w.Teardown()
	reported := len(reporter.Messages())
	wg.Wait()

	if got := len(reporter.Messages()); got != reported {
		t.Errorf("%d lines reported after teardown returned", got-reported)
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateUnsubscribed: "unsubscribed",
		StateSubscribed:   "subscribed",
		StateTornDown:     "torn down",
		State(9):          "State(9)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
