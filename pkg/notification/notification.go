// Package notification provides the line-oriented reporting sink.
package notification

import "time"

// Notification is a single line of output.
type Notification struct {
	Message string
	Time    time.Time
}

// Notifier sends notifications.
type Notifier interface {
	Send(notification Notification) error
}
