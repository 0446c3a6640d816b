package driver

import (
	"context"
)

// VisibleMessage is one message row currently rendered in the conversation
// view of the messaging surface.
type VisibleMessage struct {
	Text            string
	FromCounterpart bool
}

// Credentials holds the login identity for the messaging surface.
type Credentials struct {
	Username string
	Password string
}

// Driver launches automation handles against a messaging surface.
type Driver interface {
	Launch(ctx context.Context) (Handle, error)
}

// Handle is an exclusive connection to one live browser session. A handle
// is owned by exactly one session run; nothing else may touch it until
// Release is called.
type Handle interface {
	// Navigate opens the given URL and waits for the page to load.
	Navigate(ctx context.Context, url string) error

	// Authenticate performs the surface login flow.
	Authenticate(ctx context.Context, creds Credentials) error

	// OpenConversation locates the counterpart and opens the message thread.
	OpenConversation(ctx context.Context, counterpart string) error

	// ReadVisibleMessages returns the message rows currently rendered in
	// the open conversation, oldest first.
	ReadVisibleMessages(ctx context.Context) ([]VisibleMessage, error)

	// SendMessage types the text into the composer and submits it.
	SendMessage(ctx context.Context, text string) error

	// CaptureSnapshot returns a PNG of the current viewport.
	CaptureSnapshot(ctx context.Context) ([]byte, error)

	// Release tears down the browser session. Safe to call more than once.
	Release() error
}

// Error types
type DriverError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *DriverError) Error() string {
	return e.Message
}

// Error codes
const (
	ErrCodeLaunch          = "LAUNCH_ERROR"
	ErrCodeNavigation      = "NAVIGATION_ERROR"
	ErrCodeTimeout         = "TIMEOUT_ERROR"
	ErrCodeAuthentication  = "AUTHENTICATION_ERROR"
	ErrCodeElementNotFound = "ELEMENT_NOT_FOUND"
	ErrCodeCapture         = "CAPTURE_ERROR"
	ErrCodeSend            = "SEND_ERROR"
)
