// Package messaging delivers reminder text to patients over WhatsApp and SMS.
// Adapters translate a (phone, message) pair into a provider request and
// reduce the response to success or failure. They carry no retry logic.
package messaging

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrNotConfigured is returned when an adapter lacks provider credentials.
var ErrNotConfigured = errors.New("messaging provider not configured")

// maxErrorBody bounds how much of a provider response is kept in errors.
const maxErrorBody = 1024

// Sender delivers a single text message. A nil error means the provider
// accepted the message.
type Sender interface {
	Send(ctx context.Context, to, body string) error
}

// Option configures an adapter.
type Option func(*options)

type options struct {
	client  *http.Client
	baseURL string
	logger  zerolog.Logger
}

func defaultOptions(baseURL string) options {
	return options{
		client:  &http.Client{Timeout: 15 * time.Second},
		baseURL: baseURL,
		logger:  zerolog.Nop(),
	}
}

// WithHTTPClient overrides the HTTP client used for provider calls.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(u string) Option {
	return func(o *options) {
		if u != "" {
			o.baseURL = u
		}
	}
}

// WithLogger sets the logger used for configuration and transport failures.
func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Call is one message recorded by MockSender.
type Call struct {
	To   string
	Body string
}

// MockSender records messages instead of sending them.
type MockSender struct {
	mu    sync.Mutex
	Calls []Call
	// Err, when set, is returned from every Send.
	Err error
	// FailFor makes Send fail only for the listed recipients.
	FailFor map[string]error
}

// NewMockSender creates a MockSender that accepts everything.
func NewMockSender() *MockSender {
	return &MockSender{}
}

func (m *MockSender) Send(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, Call{To: to, Body: body})
	if err, ok := m.FailFor[to]; ok {
		return err
	}
	return m.Err
}

// CallCount returns the number of Send invocations so far.
func (m *MockSender) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent call.
func (m *MockSender) LastCall() (Call, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return Call{}, false
	}
	return m.Calls[len(m.Calls)-1], true
}
