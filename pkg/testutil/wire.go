package testutil

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Veraticus/idle-watch/pkg/interfaces"
)

// WireSocket is the socket name WireCompositor listens on inside its
// runtime directory.
const WireSocket = "wayland-test"

const (
	displayID        = 1
	displayInterface = "wl_display"
	registryIf       = "wl_registry"
)

// WireCompositor is a compositor speaking the Wayland wire protocol on a
// unix socket. It serves a single client with just enough of wl_display,
// wl_registry and ext-idle-notify-v1 to discover, bind and subscribe, and
// journals every request with the same entries FakeCompositor uses.
type WireCompositor struct {
	globals  []Global
	listener *net.UnixListener

	mu           sync.Mutex
	conn         *net.UnixConn
	objects      map[uint32]string
	journal      []string
	notification uint32
	timeout      uint32
	serial       uint32
	err          error

	subscribed     chan struct{}
	subscribedOnce sync.Once
	done           chan struct{}
}

// StartWireCompositor listens in a fresh runtime directory and points
// XDG_RUNTIME_DIR and WAYLAND_DISPLAY at it for the rest of the test.
func StartWireCompositor(t testing.TB, globals ...Global) *WireCompositor {
	t.Helper()

	dir := t.TempDir()
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: filepath.Join(dir, WireSocket), Net: "unix"})
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Setenv("XDG_RUNTIME_DIR", dir)
	t.Setenv("WAYLAND_DISPLAY", WireSocket)

	w := &WireCompositor{
		globals:    globals,
		listener:   listener,
		objects:    map[uint32]string{displayID: displayInterface},
		subscribed: make(chan struct{}),
		done:       make(chan struct{}),
	}
	go w.serve()

	t.Cleanup(func() {
		_ = listener.Close()
		_ = w.HangUp()
		<-w.done
	})
	return w
}

func (w *WireCompositor) serve() {
	defer close(w.done)

	conn, err := w.listener.AcceptUnix()
	if err != nil {
		return
	}
	w.mu.Lock()
	w.conn = conn
	w.journal = append(w.journal, OpConnect)
	w.mu.Unlock()

	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(conn, header); err != nil {
			// A client closing with events unread resets the connection
			// instead of sending EOF.
			if !errors.Is(err, net.ErrClosed) {
				w.record(OpDisconnect)
			}
			return
		}
		sender := binary.NativeEndian.Uint32(header[0:4])
		word := binary.NativeEndian.Uint32(header[4:8])
		size := int(word >> 16)
		if size < len(header) {
			w.fail(fmt.Errorf("request from object %d has size %d", sender, size))
			return
		}
		body := make([]byte, size-len(header))
		if _, err := io.ReadFull(conn, body); err != nil {
			return
		}
		if err := w.handle(sender, word&0xffff, body); err != nil {
			w.fail(err)
			return
		}
	}
}

func (w *WireCompositor) handle(sender, opcode uint32, body []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	r := wireReader{buf: body}
	iface := w.objects[sender]

	switch {
	case iface == displayInterface && opcode == 0: // sync
		callback := r.uint32()
		w.journal = append(w.journal, OpRoundtrip)
		w.serial++
		if err := w.send(callback, 0, wireUint32(w.serial)); err != nil {
			return err
		}
		return w.send(displayID, 1, wireUint32(callback)) // delete_id

	case iface == displayInterface && opcode == 1: // get_registry
		registry := r.uint32()
		w.objects[registry] = registryIf
		w.journal = append(w.journal, OpGetRegistry)
		for _, g := range w.globals {
			args := append(wireUint32(g.Name), wireString(g.Interface)...)
			args = append(args, wireUint32(g.Version)...)
			if err := w.send(registry, 0, args); err != nil {
				return err
			}
		}
		return nil

	case iface == registryIf && opcode == 0: // bind
		r.uint32() // name
		bound := r.string()
		version := r.uint32()
		id := r.uint32()
		w.objects[id] = bound
		w.journal = append(w.journal, Bind(bound, version))

	case iface == interfaces.IdleNotifierInterface && opcode == 1: // get_idle_notification
		id := r.uint32()
		timeout := r.uint32()
		seat := r.uint32()
		if w.objects[seat] != interfaces.SeatInterface {
			return fmt.Errorf("get_idle_notification with object %d (%q) as seat", seat, w.objects[seat])
		}
		w.objects[id] = notificationIf
		w.notification = id
		w.timeout = timeout
		w.journal = append(w.journal, OpSubscribe)
		w.subscribedOnce.Do(func() { close(w.subscribed) })

	case (iface == interfaces.IdleNotifierInterface || iface == notificationIf) && opcode == 0: // destroy
		delete(w.objects, sender)
		w.journal = append(w.journal, Destroy(iface))
		// The client may already be gone.
		_ = w.send(displayID, 1, wireUint32(sender))

	default:
		return fmt.Errorf("unexpected request: object %d (%q) opcode %d", sender, iface, opcode)
	}

	return r.err
}

// send writes one event. mu must be held.
func (w *WireCompositor) send(object, opcode uint32, args []byte) error {
	msg := make([]byte, 8, 8+len(args))
	binary.NativeEndian.PutUint32(msg[0:4], object)
	binary.NativeEndian.PutUint32(msg[4:8], uint32(8+len(args))<<16|opcode)
	msg = append(msg, args...)
	_, err := w.conn.Write(msg)
	return err
}

func (w *WireCompositor) record(entry string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.journal = append(w.journal, entry)
}

func (w *WireCompositor) fail(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = err
	}
	if w.conn != nil {
		_ = w.conn.Close()
	}
}

// Idled sends ext_idle_notification_v1.idled to the subscription.
func (w *WireCompositor) Idled() error {
	return w.notify(0)
}

// Resumed sends ext_idle_notification_v1.resumed to the subscription.
func (w *WireCompositor) Resumed() error {
	return w.notify(1)
}

func (w *WireCompositor) notify(opcode uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.notification == 0 {
		return errors.New("no idle notification requested")
	}
	return w.send(w.notification, opcode, nil)
}

// HangUp drops the client connection.
func (w *WireCompositor) HangUp() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}

// Subscribed is closed once the client requests an idle notification.
func (w *WireCompositor) Subscribed() <-chan struct{} {
	return w.subscribed
}

// Done is closed when the client disconnects or the connection fails.
func (w *WireCompositor) Done() <-chan struct{} {
	return w.done
}

// Journal returns a copy of the recorded requests.
func (w *WireCompositor) Journal() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.journal...)
}

// Timeout returns the timeout of the idle notification request.
func (w *WireCompositor) Timeout() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.timeout
}

// Err returns the first protocol error the compositor hit.
func (w *WireCompositor) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

type wireReader struct {
	buf []byte
	err error
}

func (r *wireReader) uint32() uint32 {
	if len(r.buf) < 4 {
		r.err = io.ErrUnexpectedEOF
		return 0
	}
	v := binary.NativeEndian.Uint32(r.buf)
	r.buf = r.buf[4:]
	return v
}

// string reads a length-prefixed, NUL-terminated, 4-byte padded string.
// Some clients put the padded length in the prefix.
func (r *wireReader) string() string {
	n := int(r.uint32())
	padded := (n + 3) &^ 3
	if n == 0 || len(r.buf) < padded {
		r.err = io.ErrUnexpectedEOF
		return ""
	}
	s := r.buf[:n]
	if i := bytes.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	r.buf = r.buf[padded:]
	return string(s)
}

func wireUint32(v uint32) []byte {
	return binary.NativeEndian.AppendUint32(nil, v)
}

func wireString(s string) []byte {
	n := len(s) + 1
	b := wireUint32(uint32(n))
	b = append(b, s...)
	return append(b, make([]byte, ((n+3)&^3)-len(s))...)
}
