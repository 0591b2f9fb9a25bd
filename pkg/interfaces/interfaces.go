// Package interfaces defines the core interfaces used throughout the application.
package interfaces

// Connection is a live link to the compositor.
type Connection interface {
	// Roundtrip flushes pending requests and blocks until the compositor
	// has processed them and every resulting event has been delivered.
	Roundtrip() error
	// Dispatch blocks until at least one event has been delivered.
	// A non-nil error means the connection is no longer usable.
	Dispatch() error
	Close() error
}

// Display is a Connection that can hand out the global registry.
type Display interface {
	Connection
	Registry(handler GlobalHandler) (Registry, error)
}

// GlobalHandler receives wl_registry.global announcements.
type GlobalHandler interface {
	HandleGlobal(name uint32, iface string, version uint32)
}

// Registry binds announced globals to typed proxies.
type Registry interface {
	BindSeat(name, version uint32) (Seat, error)
	BindIdleNotifier(name, version uint32) (IdleNotifier, error)
}

// Seat is a bound wl_seat.
type Seat interface {
	Destroy() error
}

// IdleNotifier is a bound ext_idle_notifier_v1.
type IdleNotifier interface {
	GetIdleNotification(timeoutMs uint32, seat Seat, handler IdleHandler) (IdleNotification, error)
	Destroy() error
}

// IdleNotification is an ext_idle_notification_v1 subscription.
type IdleNotification interface {
	Destroy() error
}

// IdleHandler receives idle notification events.
type IdleHandler interface {
	Idled()
	Resumed()
}

// Interface names of the globals this client binds.
const (
	SeatInterface         = "wl_seat"
	IdleNotifierInterface = "ext_idle_notifier_v1"
)
