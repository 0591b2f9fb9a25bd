// Package wayland implements the protocol interfaces on top of a real
// compositor connection.
package wayland

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rajveermalviya/go-wayland/wayland/client"
	ext_idle_notify "github.com/rajveermalviya/go-wayland/wayland/staging/ext-idle-notify-v1"

	"github.com/Veraticus/idle-watch/pkg/interfaces"
)

// Session owns the connection to the compositor.
type Session struct {
	display  *client.Display
	registry *client.Registry

	closeOnce sync.Once
	closeErr  error
}

// Ensure Session implements Display
var _ interfaces.Display = (*Session)(nil)

// Dial connects to the compositor. An empty addr uses WAYLAND_DISPLAY.
// There is exactly one attempt.
func Dial(addr string) (*Session, error) {
	display, err := client.Connect(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Wayland display: %w", err)
	}
	return &Session{display: display}, nil
}

// Registry requests the global registry and routes its announcements to handler.
// global_remove events are not handled.
func (s *Session) Registry(handler interfaces.GlobalHandler) (interfaces.Registry, error) {
	if s.registry != nil {
		return nil, errors.New("registry already requested")
	}

	registry, err := s.display.GetRegistry()
	if err != nil {
		return nil, fmt.Errorf("failed to get registry: %w", err)
	}
	registry.SetGlobalHandler(func(e client.RegistryGlobalEvent) {
		handler.HandleGlobal(e.Name, e.Interface, e.Version)
	})
	s.registry = registry

	return &binder{ctx: s.display.Context(), registry: registry}, nil
}

// Roundtrip sends wl_display.sync and dispatches until the callback fires.
func (s *Session) Roundtrip() error {
	callback, err := s.display.Sync()
	if err != nil {
		return fmt.Errorf("failed to request sync callback: %w", err)
	}
	defer func() {
		_ = callback.Destroy()
	}()

	done := false
	callback.SetDoneHandler(func(client.CallbackDoneEvent) {
		done = true
	})

	for !done {
		if err := s.display.Context().Dispatch(); err != nil {
			return fmt.Errorf("roundtrip: %w", err)
		}
	}
	return nil
}

// Dispatch reads and delivers the next event, blocking until one arrives.
func (s *Session) Dispatch() error {
	return s.display.Context().Dispatch()
}

// Close disconnects. It may be called from any goroutine, including while
// Dispatch is blocked, which then returns an error. Only the first call
// has any effect.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.display.Context().Close()
	})
	return s.closeErr
}

// release drops a proxy from the object map. Only the goroutine that
// dispatches may call it.
func release(p client.Proxy) {
	p.Context().Unregister(p)
}

// destroyOpcode is the destructor request of both ext-idle-notify interfaces.
const destroyOpcode = 0

// sendDestroy writes the destructor request for p. Unlike the generated
// Destroy methods it leaves the object map alone, since the dispatch
// goroutine may be reading it; the map is dropped with the connection.
func sendDestroy(p client.Proxy) error {
	var req [8]byte
	client.PutUint32(req[0:4], p.ID())
	client.PutUint32(req[4:8], uint32(len(req))<<16|destroyOpcode)
	return p.Context().WriteMsg(req[:], nil)
}

type binder struct {
	ctx      *client.Context
	registry *client.Registry
}

func (b *binder) BindSeat(name, version uint32) (interfaces.Seat, error) {
	seat := client.NewSeat(b.ctx)
	if err := b.registry.Bind(name, interfaces.SeatInterface, version, seat); err != nil {
		release(seat)
		return nil, fmt.Errorf("failed to bind %s: %w", interfaces.SeatInterface, err)
	}
	return &seatProxy{seat: seat}, nil
}

func (b *binder) BindIdleNotifier(name, version uint32) (interfaces.IdleNotifier, error) {
	notifier := ext_idle_notify.NewIdleNotifier(b.ctx)
	if err := b.registry.Bind(name, interfaces.IdleNotifierInterface, version, notifier); err != nil {
		release(notifier)
		return nil, fmt.Errorf("failed to bind %s: %w", interfaces.IdleNotifierInterface, err)
	}
	return &notifierProxy{notifier: notifier}, nil
}

type seatProxy struct {
	seat *client.Seat
}

// Destroy sends nothing: wl_seat.release needs version 5. The proxy goes
// away with the connection.
func (p *seatProxy) Destroy() error {
	return nil
}

type notifierProxy struct {
	notifier *ext_idle_notify.IdleNotifier
}

func (p *notifierProxy) GetIdleNotification(timeoutMs uint32, seat interfaces.Seat, handler interfaces.IdleHandler) (interfaces.IdleNotification, error) {
	sp, ok := seat.(*seatProxy)
	if !ok {
		return nil, fmt.Errorf("seat %T was not bound by this session", seat)
	}

	notification, err := p.notifier.GetIdleNotification(timeoutMs, sp.seat)
	if err != nil {
		return nil, fmt.Errorf("failed to request idle notification: %w", err)
	}

	// Events are only read inside Dispatch, so nothing is missed by
	// installing the handlers after the request went out.
	notification.SetIdledHandler(func(ext_idle_notify.IdleNotificationIdledEvent) {
		handler.Idled()
	})
	notification.SetResumedHandler(func(ext_idle_notify.IdleNotificationResumedEvent) {
		handler.Resumed()
	})

	return &notificationProxy{notification: notification}, nil
}

func (p *notifierProxy) Destroy() error {
	return sendDestroy(p.notifier)
}

type notificationProxy struct {
	notification *ext_idle_notify.IdleNotification
}

func (p *notificationProxy) Destroy() error {
	return sendDestroy(p.notification)
}
