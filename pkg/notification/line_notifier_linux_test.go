//go:build linux
// +build linux

package notification

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/creack/pty"
)

func TestLineNotifier_TerminalSeesLineImmediately(t *testing.T) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	defer func() { _ = ptmx.Close() }()
	defer func() { _ = tty.Close() }()

	const msg = "[Resume] Activity resumed"
	n := NewLineNotifier(tty, false)
	if err := n.Send(Notification{Message: msg}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	got := make(chan string, 1)
	go func() {
		buf := make([]byte, 256)
		var out []byte
		for !bytes.Contains(out, []byte("\n")) {
			k, err := ptmx.Read(buf)
			if err != nil {
				break
			}
			out = append(out, buf[:k]...)
		}
		got <- string(out)
	}()

	select {
	case out := <-got:
		// The line discipline maps \n to \r\n.
		if line := strings.TrimRight(out, "\r\n"); line != msg {
			t.Errorf("terminal read %q, want %q", line, msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("line was not visible on the terminal without a flush")
	}
}
