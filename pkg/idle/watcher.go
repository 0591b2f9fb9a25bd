// Package idle relays ext_idle_notification_v1 events as report lines.
//
// A Watcher moves through three states:
//
//	Unsubscribed -> Subscribed -> TornDown
//
// Subscribe happens once, after the seat and idle notifier are bound.
// While subscribed, every idled or resumed event produces exactly one
// report, in delivery order. Nothing is deduplicated, and the compositor
// is trusted to alternate the two events. Teardown destroys the
// subscription; events that race with it are dropped.
package idle

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/Veraticus/idle-watch/pkg/interfaces"
)

// State is the subscription lifecycle state.
type State int

const (
	// StateUnsubscribed is the initial state.
	StateUnsubscribed State = iota
	// StateSubscribed means events are being relayed.
	StateSubscribed
	// StateTornDown is terminal.
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateSubscribed:
		return "subscribed"
	case StateTornDown:
		return "torn down"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	// ErrAlreadySubscribed is returned by a second Subscribe.
	ErrAlreadySubscribed = errors.New("idle notification already requested")
	// ErrTornDown is returned by Subscribe after Teardown.
	ErrTornDown = errors.New("idle watcher has been torn down")
)

// Reporter receives the text of each transition.
type Reporter interface {
	Report(message string) error
}

// Messages are the lines reported for each event.
type Messages struct {
	Idle   string
	Resume string
}

// Watcher owns the idle notification subscription.
type Watcher struct {
	reporter Reporter
	messages Messages
	logger   *slog.Logger

	mu           sync.Mutex
	state        State
	notification interfaces.IdleNotification
}

// Ensure Watcher implements IdleHandler
var _ interfaces.IdleHandler = (*Watcher)(nil)

// NewWatcher creates an unsubscribed watcher.
func NewWatcher(reporter Reporter, messages Messages, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Watcher{
		reporter: reporter,
		messages: messages,
		logger:   logger,
	}
}

// State returns the current state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Subscribe requests an idle notification for seat after timeoutMs
// milliseconds of inactivity. The timeout is passed through as is; zero
// is valid.
func (w *Watcher) Subscribe(notifier interfaces.IdleNotifier, seat interfaces.Seat, timeoutMs uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateSubscribed:
		return ErrAlreadySubscribed
	case StateTornDown:
		return ErrTornDown
	}

	notification, err := notifier.GetIdleNotification(timeoutMs, seat, w)
	if err != nil {
		return fmt.Errorf("failed to subscribe to idle notifications: %w", err)
	}

	w.notification = notification
	w.setState(StateSubscribed)
	w.logger.Debug("idle notification requested", "timeout_ms", timeoutMs)
	return nil
}

// Idled reports the idle message.
func (w *Watcher) Idled() {
	w.relay("idled", w.messages.Idle)
}

// Resumed reports the resume message.
func (w *Watcher) Resumed() {
	w.relay("resumed", w.messages.Resume)
}

func (w *Watcher) relay(event, message string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateSubscribed {
		w.logger.Debug("dropping event", "event", event, "state", w.state)
		return
	}

	if err := w.reporter.Report(message); err != nil {
		w.logger.Error("failed to report event", "event", event, "error", err)
	}
}

// Teardown destroys the subscription if one exists. It is safe to call
// in any state and more than once.
func (w *Watcher) Teardown() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateTornDown {
		return nil
	}
	w.setState(StateTornDown)

	notification := w.notification
	w.notification = nil
	if notification == nil {
		return nil
	}
	if err := notification.Destroy(); err != nil {
		return fmt.Errorf("failed to destroy idle notification: %w", err)
	}
	return nil
}

// setState must be called with mu held.
func (w *Watcher) setState(s State) {
	w.logger.Debug("idle watcher state change", "from", w.state, "to", s)
	w.state = s
}
