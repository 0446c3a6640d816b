package driver

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

// Selectors maps the messaging surface's UI elements to CSS selectors.
// Swapping this set retargets the driver at a different surface without
// touching any session logic.
type Selectors struct {
	UsernameField    string
	PasswordField    string
	SubmitButton     string
	SearchBox        string
	ConversationLink string
	MessageRow       string
	CounterpartClass string
	ComposerField    string
	SendButton       string
}

// RodConfig holds browser launch configuration
type RodConfig struct {
	Headless   bool
	NoSandbox  bool
	ChromePath string
	Selectors  Selectors
}

// RodDriver launches Chrome sessions via go-rod.
type RodDriver struct {
	cfg    RodConfig
	logger zerolog.Logger
}

// NewRodDriver creates a rod-backed driver.
func NewRodDriver(cfg RodConfig, logger zerolog.Logger) *RodDriver {
	return &RodDriver{
		cfg:    cfg,
		logger: logger.With().Str("component", "driver").Logger(),
	}
}

// Launch spawns a Chrome process and returns an exclusive handle to it.
func (d *RodDriver) Launch(ctx context.Context) (Handle, error) {
	l := launcher.New().
		Headless(d.cfg.Headless)

	if d.cfg.NoSandbox {
		l = l.NoSandbox(true)
	}

	if d.cfg.ChromePath != "" {
		l = l.Bin(d.cfg.ChromePath)
	}

	url, err := l.Launch()
	if err != nil {
		return nil, &DriverError{
			Code:    ErrCodeLaunch,
			Message: fmt.Sprintf("Failed to launch Chrome: %v", err),
		}
	}

	browser := rod.New().ControlURL(url).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, &DriverError{
			Code:    ErrCodeLaunch,
			Message: fmt.Sprintf("Failed to connect to CDP: %v", err),
		}
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		browser.Close()
		l.Kill()
		return nil, &DriverError{
			Code:    ErrCodeLaunch,
			Message: fmt.Sprintf("Failed to create page: %v", err),
		}
	}

	d.logger.Debug().Str("cdp_url", url).Msg("Browser launched")

	return &rodHandle{
		launcher:  l,
		browser:   browser,
		page:      page,
		selectors: d.cfg.Selectors,
		logger:    d.logger,
	}, nil
}

// rodHandle drives one Chrome session. Methods are not safe for concurrent
// use; the owning session run is the only caller.
type rodHandle struct {
	launcher    *launcher.Launcher
	browser     *rod.Browser
	page        *rod.Page
	selectors   Selectors
	logger      zerolog.Logger
	releaseOnce sync.Once
}

func (h *rodHandle) Navigate(ctx context.Context, url string) error {
	page := h.page.Context(ctx).Timeout(30 * time.Second)

	if err := page.Navigate(url); err != nil {
		return &DriverError{
			Code:    ErrCodeNavigation,
			Message: fmt.Sprintf("Failed to navigate to %s: %v", url, err),
		}
	}
	if err := page.WaitLoad(); err != nil {
		return &DriverError{
			Code:    ErrCodeTimeout,
			Message: fmt.Sprintf("Page load timeout: %v", err),
		}
	}

	return nil
}

func (h *rodHandle) Authenticate(ctx context.Context, creds Credentials) error {
	page := h.page.Context(ctx).Timeout(30 * time.Second)

	if err := h.typeInto(page, h.selectors.UsernameField, creds.Username); err != nil {
		return &DriverError{
			Code:    ErrCodeAuthentication,
			Message: fmt.Sprintf("Failed to fill username: %v", err),
		}
	}
	if err := h.typeInto(page, h.selectors.PasswordField, creds.Password); err != nil {
		return &DriverError{
			Code:    ErrCodeAuthentication,
			Message: fmt.Sprintf("Failed to fill password: %v", err),
		}
	}

	submit, err := page.Element(h.selectors.SubmitButton)
	if err != nil {
		return &DriverError{
			Code:    ErrCodeElementNotFound,
			Message: fmt.Sprintf("Element not found: %s", h.selectors.SubmitButton),
		}
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return &DriverError{
			Code:    ErrCodeAuthentication,
			Message: fmt.Sprintf("Failed to submit login form: %v", err),
		}
	}

	if err := page.WaitLoad(); err != nil {
		return &DriverError{
			Code:    ErrCodeTimeout,
			Message: fmt.Sprintf("Post-login load timeout: %v", err),
		}
	}

	return nil
}

func (h *rodHandle) OpenConversation(ctx context.Context, counterpart string) error {
	page := h.page.Context(ctx).Timeout(30 * time.Second)

	search, err := page.Element(h.selectors.SearchBox)
	if err != nil {
		return &DriverError{
			Code:    ErrCodeElementNotFound,
			Message: fmt.Sprintf("Element not found: %s", h.selectors.SearchBox),
		}
	}
	if err := search.Input(counterpart); err != nil {
		return &DriverError{
			Code:    ErrCodeNavigation,
			Message: fmt.Sprintf("Failed to search for counterpart: %v", err),
		}
	}
	if err := search.Type(input.Enter); err != nil {
		return &DriverError{
			Code:    ErrCodeNavigation,
			Message: fmt.Sprintf("Failed to submit search: %v", err),
		}
	}

	link, err := page.Element(h.selectors.ConversationLink)
	if err != nil {
		return &DriverError{
			Code:    ErrCodeElementNotFound,
			Message: fmt.Sprintf("Conversation not found for %s", counterpart),
		}
	}
	if err := link.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return &DriverError{
			Code:    ErrCodeNavigation,
			Message: fmt.Sprintf("Failed to open conversation: %v", err),
		}
	}

	if err := page.WaitLoad(); err != nil {
		return &DriverError{
			Code:    ErrCodeTimeout,
			Message: fmt.Sprintf("Conversation load timeout: %v", err),
		}
	}

	return nil
}

func (h *rodHandle) ReadVisibleMessages(ctx context.Context) ([]VisibleMessage, error) {
	page := h.page.Context(ctx).Timeout(15 * time.Second)

	rows, err := page.Elements(h.selectors.MessageRow)
	if err != nil {
		return nil, &DriverError{
			Code:    ErrCodeElementNotFound,
			Message: fmt.Sprintf("Failed to read message rows: %v", err),
		}
	}

	messages := make([]VisibleMessage, 0, len(rows))
	for _, row := range rows {
		text, err := row.Text()
		if err != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		fromCounterpart := false
		if h.selectors.CounterpartClass != "" {
			if cls, err := row.Attribute("class"); err == nil && cls != nil {
				fromCounterpart = strings.Contains(*cls, h.selectors.CounterpartClass)
			}
		}

		messages = append(messages, VisibleMessage{
			Text:            text,
			FromCounterpart: fromCounterpart,
		})
	}

	return messages, nil
}

func (h *rodHandle) SendMessage(ctx context.Context, text string) error {
	page := h.page.Context(ctx).Timeout(30 * time.Second)

	if err := h.typeInto(page, h.selectors.ComposerField, text); err != nil {
		return &DriverError{
			Code:    ErrCodeSend,
			Message: fmt.Sprintf("Failed to type message: %v", err),
		}
	}

	send, err := page.Element(h.selectors.SendButton)
	if err != nil {
		return &DriverError{
			Code:    ErrCodeElementNotFound,
			Message: fmt.Sprintf("Element not found: %s", h.selectors.SendButton),
		}
	}
	if err := send.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return &DriverError{
			Code:    ErrCodeSend,
			Message: fmt.Sprintf("Failed to click send: %v", err),
		}
	}

	return nil
}

func (h *rodHandle) CaptureSnapshot(ctx context.Context) ([]byte, error) {
	page := h.page.Context(ctx).Timeout(10 * time.Second)

	data, err := page.Screenshot(false, nil)
	if err != nil {
		return nil, &DriverError{
			Code:    ErrCodeCapture,
			Message: fmt.Sprintf("Failed to capture screenshot: %v", err),
		}
	}

	return data, nil
}

// Release tears down the browser and the Chrome process. Idempotent.
func (h *rodHandle) Release() error {
	h.releaseOnce.Do(func() {
		if h.browser != nil {
			if err := h.browser.Close(); err != nil {
				h.logger.Warn().Err(err).Msg("Browser close failed during release")
			}
		}
		if h.launcher != nil {
			h.launcher.Kill()
		}
		h.logger.Debug().Msg("Browser released")
	})
	return nil
}

func (h *rodHandle) typeInto(page *rod.Page, selector, value string) error {
	elem, err := page.Element(selector)
	if err != nil {
		return fmt.Errorf("element not found: %s", selector)
	}
	if err := elem.Input(value); err != nil {
		return fmt.Errorf("input failed: %w", err)
	}
	return nil
}
