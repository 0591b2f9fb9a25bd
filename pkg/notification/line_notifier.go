package notification

import (
	"io"
	"sync"
)

// TimestampLayout is the local-time prefix format, YYYY-MM-DD HH:MM:SS.
const TimestampLayout = "2006-01-02 15:04:05"

// LineNotifier writes each notification as one line.
type LineNotifier struct {
	mu        sync.Mutex
	w         io.Writer
	timestamp bool
}

// NewLineNotifier creates a notifier writing to w. w should be unbuffered
// (os.Stdout is) so each line is visible as soon as Send returns.
func NewLineNotifier(w io.Writer, timestamp bool) *LineNotifier {
	return &LineNotifier{
		w:         w,
		timestamp: timestamp,
	}
}

// Send writes the message, prefixed with "[<local time>] " when
// timestamps are enabled, followed by a newline.
func (n *LineNotifier) Send(notification Notification) error {
	line := Format(notification, n.timestamp)

	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := io.WriteString(n.w, line)
	return err
}

// Format renders the line written for notification, newline included.
func Format(notification Notification, timestamp bool) string {
	if !timestamp {
		return notification.Message + "\n"
	}
	return "[" + notification.Time.Local().Format(TimestampLayout) + "] " + notification.Message + "\n"
}
