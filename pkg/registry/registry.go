// Package registry discovers and binds the globals idle tracking needs.
package registry

import (
	"errors"
	"io"
	"log/slog"

	"github.com/Veraticus/idle-watch/pkg/interfaces"
)

// BindVersion is the only protocol version this client binds.
const BindVersion uint32 = 1

var (
	// ErrNoSeat is returned when no wl_seat was announced or bound.
	ErrNoSeat = errors.New("no wl_seat found")
	// ErrNoIdleNotifier is returned when ext_idle_notifier_v1 was not announced or bound.
	ErrNoIdleNotifier = errors.New("ext_idle_notifier_v1 not available")
)

// Registry watches global announcements and keeps the first seat and
// idle notifier it manages to bind.
type Registry struct {
	binder interfaces.Registry
	logger *slog.Logger

	seat         interfaces.Seat
	idleNotifier interfaces.IdleNotifier
}

// Ensure Registry implements GlobalHandler
var _ interfaces.GlobalHandler = (*Registry)(nil)

// New creates an empty registry. Attach must be called before the
// roundtrip that delivers announcements.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{logger: logger}
}

// Attach sets the binder used for matching globals.
func (r *Registry) Attach(binder interfaces.Registry) {
	r.binder = binder
}

// HandleGlobal binds wl_seat and ext_idle_notifier_v1 at version 1.
// Duplicate announcements of an already bound interface are ignored.
func (r *Registry) HandleGlobal(name uint32, iface string, version uint32) {
	r.logger.Debug("global announced", "name", name, "interface", iface, "version", version)

	if r.binder == nil {
		r.logger.Warn("global announced before registry was attached", "interface", iface)
		return
	}

	switch iface {
	case interfaces.SeatInterface:
		if r.seat != nil {
			r.logger.Debug("ignoring duplicate global", "name", name, "interface", iface)
			return
		}
		seat, err := r.binder.BindSeat(name, BindVersion)
		if err != nil {
			r.logger.Error("bind failed", "interface", iface, "error", err)
			return
		}
		r.seat = seat
		r.logger.Debug("bound global", "name", name, "interface", iface, "version", BindVersion)

	case interfaces.IdleNotifierInterface:
		if r.idleNotifier != nil {
			r.logger.Debug("ignoring duplicate global", "name", name, "interface", iface)
			return
		}
		notifier, err := r.binder.BindIdleNotifier(name, BindVersion)
		if err != nil {
			r.logger.Error("bind failed", "interface", iface, "error", err)
			return
		}
		r.idleNotifier = notifier
		r.logger.Debug("bound global", "name", name, "interface", iface, "version", BindVersion)
	}
}

// Seat returns the bound seat, or nil.
func (r *Registry) Seat() interfaces.Seat {
	return r.seat
}

// IdleNotifier returns the bound idle notifier, or nil.
func (r *Registry) IdleNotifier() interfaces.IdleNotifier {
	return r.idleNotifier
}

// Require reports which required global is missing, checking the seat first.
func (r *Registry) Require() error {
	if r.seat == nil {
		return ErrNoSeat
	}
	if r.idleNotifier == nil {
		return ErrNoIdleNotifier
	}
	return nil
}
