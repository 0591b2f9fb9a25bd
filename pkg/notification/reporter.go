package notification

import (
	"time"
)

// Reporter stamps messages with the current time and hands them to a Notifier.
type Reporter struct {
	notifier Notifier
	now      func() time.Time
}

// NewReporter creates a reporter that reads the wall clock.
func NewReporter(notifier Notifier) *Reporter {
	return NewReporterWithClock(notifier, time.Now)
}

// NewReporterWithClock creates a reporter with an explicit clock.
func NewReporterWithClock(notifier Notifier, now func() time.Time) *Reporter {
	return &Reporter{
		notifier: notifier,
		now:      now,
	}
}

// Report sends message verbatim.
func (r *Reporter) Report(message string) error {
	return r.notifier.Send(Notification{
		Message: message,
		Time:    r.now(),
	})
}
