// Package capture turns user speech into either recognized text or a raw
// audio payload. Two strategies exist: live recognition over a websocket and
// plain microphone recording. At most one capture session is active across
// both, and the microphone is released on every exit path.
package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

type ErrorKind int

const (
	KindNoSpeech ErrorKind = iota
	KindDenied
	KindUnavailable
	KindBusy
	KindOther
)

func (k ErrorKind) String() string {
	switch k {
	case KindNoSpeech:
		return "no-speech"
	case KindDenied:
		return "denied"
	case KindUnavailable:
		return "unavailable"
	case KindBusy:
		return "busy"
	default:
		return "other"
	}
}

// Error classifies a failed capture. Soft errors are expected outcomes (no
// speech, too short) and need no alarming surface; the rest usually require
// the user to change something.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("capture %s: %s", e.Kind, e.Message)
}

func (e *Error) Soft() bool {
	return e.Kind == KindNoSpeech
}

// Result is the terminal outcome of a successful session. Recognition fills
// Text; recording fills Audio and MIMEType.
type Result struct {
	Text     string
	Audio    []byte
	MIMEType string
}

// Sink receives exactly one terminal callback per session.
type Sink interface {
	Result(Result)
	Failure(*Error)
}

// Strategy is one capture mechanism. Implementations deliver their terminal
// outcome to the Sink they were built with.
type Strategy interface {
	Name() string
	Available() bool
	Start(ctx context.Context) error
	Stop()
	Active() bool
}

// Listening is the slice of the visual state the controller owns.
type Listening interface {
	SetListening(bool)
}

// Controller owns the single live capture session. Starting evicts whatever
// is active, regardless of which strategy it belongs to.
type Controller struct {
	presence Listening
	logger   *log.Logger

	mu       sync.Mutex
	selected Strategy
	active   Strategy

	// OnResult and OnError are the controller's terminal callback slots.
	OnResult func(Result)
	OnError  func(*Error)
}

func NewController(presence Listening, logger *log.Logger) *Controller {
	return &Controller{presence: presence, logger: logger}
}

// Use selects which strategy Start will run.
func (c *Controller) Use(s Strategy) {
	c.mu.Lock()
	c.selected = s
	c.mu.Unlock()
}

// Start begins a session with the selected strategy. Any active session, of
// either strategy, is stopped first.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	s := c.selected
	prev := c.active
	c.active = nil
	c.mu.Unlock()

	if prev != nil {
		c.logger.Debug("evicting active capture", "strategy", prev.Name())
		prev.Stop()
	}
	if s == nil {
		return &Error{Kind: KindUnavailable, Message: "no capture strategy selected"}
	}
	if !s.Available() {
		return &Error{Kind: KindUnavailable, Message: s.Name() + " capture is not available"}
	}
	if err := s.Start(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.active = s
	c.mu.Unlock()
	c.presence.SetListening(true)
	c.logger.Info("capture started", "strategy", s.Name())
	return nil
}

// Stop ends the active session, if any. Idempotent.
func (c *Controller) Stop() {
	c.mu.Lock()
	s := c.active
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.Stop()
}

func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil && c.active.Active()
}

// Result and Failure make the controller the Sink for its strategies: the
// session is cleared and the terminal callback forwarded.
func (c *Controller) Result(r Result) {
	c.settle()
	if c.OnResult != nil {
		c.OnResult(r)
	}
}

func (c *Controller) Failure(e *Error) {
	c.settle()
	c.logger.Warn("capture failed", "kind", e.Kind, "msg", e.Message)
	if c.OnError != nil {
		c.OnError(e)
	}
}

func (c *Controller) settle() {
	c.mu.Lock()
	c.active = nil
	c.mu.Unlock()
	c.presence.SetListening(false)
}
