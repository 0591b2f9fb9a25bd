package testutil

import (
	"sync"

	"github.com/Veraticus/idle-watch/pkg/notification"
)

// MockNotifier is a thread-safe mock implementation of notification.Notifier for testing
type MockNotifier struct {
	mu            sync.Mutex
	notifications []notification.Notification
	sendErr       error
}

// NewMockNotifier creates a new mock notifier
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{
		notifications: []notification.Notification{},
	}
}

// Send implements the Notifier interface
func (m *MockNotifier) Send(n notification.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendErr != nil {
		return m.sendErr
	}

	m.notifications = append(m.notifications, n)
	return nil
}

// GetNotifications returns a copy of successfully sent notifications
func (m *MockNotifier) GetNotifications() []notification.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]notification.Notification, len(m.notifications))
	copy(result, m.notifications)
	return result
}

// Messages returns the message text of each successful send, in order
func (m *MockNotifier) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]string, len(m.notifications))
	for i, n := range m.notifications {
		result[i] = n.Message
	}
	return result
}

// SetError sets the error to return on Send calls
func (m *MockNotifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// MockReporter records reported messages for idle.Reporter consumers
type MockReporter struct {
	mu       sync.Mutex
	messages []string
	err      error
}

// NewMockReporter creates a new mock reporter
func NewMockReporter() *MockReporter {
	return &MockReporter{}
}

// Report implements the idle.Reporter interface
func (m *MockReporter) Report(message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, message)
	return nil
}

// Messages returns a copy of reported messages
func (m *MockReporter) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]string, len(m.messages))
	copy(result, m.messages)
	return result
}

// SetError sets the error to return on Report calls
func (m *MockReporter) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}
