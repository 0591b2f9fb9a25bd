package testutil

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Veraticus/idle-watch/pkg/interfaces"
)

var (
	// ErrSevered is returned by Dispatch after a scripted EventSever.
	ErrSevered = errors.New("connection reset by compositor")
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("use of closed connection")
)

// Event is a scripted compositor event.
type Event string

const (
	EventIdled   Event = "idled"
	EventResumed Event = "resumed"
	// EventSever drops the connection.
	EventSever Event = "sever"
)

// Journal entries written by FakeCompositor.
const (
	OpConnect      = "connect"
	OpGetRegistry  = "get_registry"
	OpRoundtrip    = "roundtrip"
	OpSubscribe    = "get_idle_notification"
	OpDisconnect   = "disconnect"
	OpDoubleClose  = "double disconnect"
	notificationIf = "ext_idle_notification_v1"
)

// Bind returns the journal entry for binding iface at version.
func Bind(iface string, version uint32) string {
	return fmt.Sprintf("bind %s v%d", iface, version)
}

// Destroy returns the journal entry for destroying iface.
func Destroy(iface string) string {
	return "destroy " + iface
}

// DestroyNotification is the journal entry for destroying the subscription.
var DestroyNotification = Destroy(notificationIf)

// Global is an announced wl_registry global.
type Global struct {
	Name      uint32 `yaml:"name"`
	Interface string `yaml:"interface"`
	Version   uint32 `yaml:"version"`
}

// StandardGlobals is what a compositor supporting idle notification announces.
func StandardGlobals() []Global {
	return []Global{
		{Name: 1, Interface: "wl_compositor", Version: 6},
		{Name: 2, Interface: interfaces.SeatInterface, Version: 9},
		{Name: 3, Interface: "wl_output", Version: 4},
		{Name: 4, Interface: interfaces.IdleNotifierInterface, Version: 1},
	}
}

// FakeCompositor implements interfaces.Display and interfaces.Registry
// in memory. Every acquire and release is appended to an ordered journal.
type FakeCompositor struct {
	Globals []Global

	DialErr             error
	RegistryErr         error
	RoundtripErr        error
	BindSeatErr         error
	BindIdleNotifierErr error
	SubscribeErr        error
	// HangRoundtrip makes Roundtrip block until Close, like a compositor
	// that never answers wl_display.sync.
	HangRoundtrip bool

	mu            sync.Mutex
	journal       []string
	dials         int
	handler       interfaces.GlobalHandler
	idleHandler   interfaces.IdleHandler
	timeout       uint32
	subscriptions int
	bound         map[string][]uint32
	severed       bool

	events       chan Event
	closed       chan struct{}
	closeOnce    sync.Once
	dispatching  chan struct{}
	dispatchOnce sync.Once
	hung         chan struct{}
	hungOnce     sync.Once
}

// Ensure FakeCompositor implements Display and Registry
var (
	_ interfaces.Display  = (*FakeCompositor)(nil)
	_ interfaces.Registry = (*FakeCompositor)(nil)
)

// NewFakeCompositor creates a compositor announcing globals.
func NewFakeCompositor(globals ...Global) *FakeCompositor {
	return &FakeCompositor{
		Globals:     globals,
		bound:       make(map[string][]uint32),
		events:      make(chan Event, 256),
		closed:      make(chan struct{}),
		dispatching: make(chan struct{}),
		hung:        make(chan struct{}),
	}
}

// Dial connects to the compositor.
func (c *FakeCompositor) Dial() (interfaces.Display, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.dials++
	if c.DialErr != nil {
		return nil, c.DialErr
	}
	c.journal = append(c.journal, OpConnect)
	return c, nil
}

// Registry implements interfaces.Display.
func (c *FakeCompositor) Registry(handler interfaces.GlobalHandler) (interfaces.Registry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.RegistryErr != nil {
		return nil, c.RegistryErr
	}
	c.journal = append(c.journal, OpGetRegistry)
	c.handler = handler
	return c, nil
}

// Roundtrip announces every global to the registry handler.
func (c *FakeCompositor) Roundtrip() error {
	c.mu.Lock()
	c.journal = append(c.journal, OpRoundtrip)
	handler := c.handler
	globals := append([]Global(nil), c.Globals...)
	err := c.RoundtripErr
	hang := c.HangRoundtrip
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if hang {
		c.hungOnce.Do(func() { close(c.hung) })
		<-c.closed
		return fmt.Errorf("roundtrip: %w", ErrClosed)
	}
	if handler == nil {
		return nil
	}
	for _, g := range globals {
		handler.HandleGlobal(g.Name, g.Interface, g.Version)
	}
	return nil
}

// Dispatch delivers one scripted event, blocking until one is queued or
// the connection is closed.
func (c *FakeCompositor) Dispatch() error {
	c.dispatchOnce.Do(func() { close(c.dispatching) })

	c.mu.Lock()
	severed := c.severed
	c.mu.Unlock()
	if severed {
		return ErrSevered
	}

	select {
	case <-c.closed:
		return ErrClosed
	case ev := <-c.events:
		return c.deliver(ev)
	}
}

func (c *FakeCompositor) deliver(ev Event) error {
	c.mu.Lock()
	handler := c.idleHandler
	if ev == EventSever {
		c.severed = true
	}
	c.mu.Unlock()

	switch ev {
	case EventSever:
		return ErrSevered
	case EventIdled:
		if handler != nil {
			handler.Idled()
		}
	case EventResumed:
		if handler != nil {
			handler.Resumed()
		}
	default:
		return fmt.Errorf("unknown scripted event %q", ev)
	}
	return nil
}

// Emit queues events for Dispatch.
func (c *FakeCompositor) Emit(events ...Event) {
	for _, ev := range events {
		c.events <- ev
	}
}

// Close disconnects. A second call is recorded as a double disconnect.
func (c *FakeCompositor) Close() error {
	first := false
	c.closeOnce.Do(func() {
		first = true
		close(c.closed)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if !first {
		c.journal = append(c.journal, OpDoubleClose)
		return ErrClosed
	}
	c.journal = append(c.journal, OpDisconnect)
	return nil
}

// BindSeat implements interfaces.Registry.
func (c *FakeCompositor) BindSeat(name, version uint32) (interfaces.Seat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.BindSeatErr != nil {
		return nil, c.BindSeatErr
	}
	c.recordBind(interfaces.SeatInterface, name, version)
	return &fakeProxy{c: c, iface: interfaces.SeatInterface}, nil
}

// BindIdleNotifier implements interfaces.Registry.
func (c *FakeCompositor) BindIdleNotifier(name, version uint32) (interfaces.IdleNotifier, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.BindIdleNotifierErr != nil {
		return nil, c.BindIdleNotifierErr
	}
	c.recordBind(interfaces.IdleNotifierInterface, name, version)
	return &fakeNotifier{fakeProxy: &fakeProxy{c: c, iface: interfaces.IdleNotifierInterface}}, nil
}

// recordBind must be called with mu held.
func (c *FakeCompositor) recordBind(iface string, name, version uint32) {
	c.journal = append(c.journal, Bind(iface, version))
	c.bound[iface] = append(c.bound[iface], name)
}

// Journal returns a copy of the recorded operations.
func (c *FakeCompositor) Journal() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := make([]string, len(c.journal))
	copy(result, c.journal)
	return result
}

// Dials returns how many times Dial was called.
func (c *FakeCompositor) Dials() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials
}

// BoundNames returns the global names bound for iface, in bind order.
func (c *FakeCompositor) BoundNames(iface string) []uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint32(nil), c.bound[iface]...)
}

// Subscriptions returns how many idle notifications were requested.
func (c *FakeCompositor) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptions
}

// Timeout returns the timeout of the last idle notification request.
func (c *FakeCompositor) Timeout() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeout
}

// Hung is closed once Roundtrip blocks because of HangRoundtrip.
func (c *FakeCompositor) Hung() <-chan struct{} {
	return c.hung
}

// Dispatching is closed on the first Dispatch call.
func (c *FakeCompositor) Dispatching() <-chan struct{} {
	return c.dispatching
}

type fakeProxy struct {
	c         *FakeCompositor
	iface     string
	destroyed bool
}

func (p *fakeProxy) Destroy() error {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()

	if p.destroyed {
		p.c.journal = append(p.c.journal, "double "+Destroy(p.iface))
		return fmt.Errorf("%s destroyed twice", p.iface)
	}
	p.destroyed = true
	p.c.journal = append(p.c.journal, Destroy(p.iface))
	return nil
}

type fakeNotifier struct {
	*fakeProxy
}

func (n *fakeNotifier) GetIdleNotification(timeoutMs uint32, seat interfaces.Seat, handler interfaces.IdleHandler) (interfaces.IdleNotification, error) {
	if _, ok := seat.(*fakeProxy); !ok {
		return nil, fmt.Errorf("seat %T was not bound by this compositor", seat)
	}

	c := n.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SubscribeErr != nil {
		return nil, c.SubscribeErr
	}
	c.journal = append(c.journal, OpSubscribe)
	c.idleHandler = handler
	c.timeout = timeoutMs
	c.subscriptions++
	return &fakeProxy{c: c, iface: notificationIf}, nil
}
