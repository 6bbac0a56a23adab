// Package chat owns the conversation: the transcript, the per-turn
// sequencing against the backend, and the chat popup lifecycle.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"chitti/api"
	"chitti/capture"
	"chitti/presence"
)

type Sender string

const (
	User      Sender = "User"
	Assistant Sender = "Assistant"
)

// Entry is one transcript line. Entries are immutable once appended.
type Entry struct {
	Sender Sender
	Text   string
}

// Backend is the remote assistant service.
type Backend interface {
	Greet(ctx context.Context) ([]byte, error)
	Speak(ctx context.Context, text string) ([]byte, error)
	ChatText(ctx context.Context, text string) (string, error)
	ChatAudio(ctx context.Context, data []byte, mimeType string) (string, error)
}

// Player is the single-flight audio output.
type Player interface {
	Play(data []byte, source string) error
	Stop()
	Speaking() bool
}

// Capture is the single-flight speech input.
type Capture interface {
	Start(ctx context.Context) error
	Stop()
	Active() bool
}

// Presenter is the slice of the visual state the orchestrator drives.
type Presenter interface {
	Wake()
	Animate(presence.Animation)
}

// Orchestrator runs one user turn at a time: transcript append, backend
// round trip, reply playback. It is the only writer of the transcript.
type Orchestrator struct {
	backend  Backend
	player   Player
	capture  Capture
	presence Presenter
	logger   *log.Logger
	now      func() time.Time

	mu         sync.Mutex
	entries    []Entry
	processing bool
	open       bool

	onChange func()
	notice   func(string)
}

func New(backend Backend, player Player, cap Capture, pres Presenter, logger *log.Logger) *Orchestrator {
	return &Orchestrator{
		backend:  backend,
		player:   player,
		capture:  cap,
		presence: pres,
		logger:   logger,
		now:      time.Now,
	}
}

// SetOnChange registers a hook invoked after every transcript or indicator
// change. The UI uses it to refresh.
func (o *Orchestrator) SetOnChange(fn func()) {
	o.mu.Lock()
	o.onChange = fn
	o.mu.Unlock()
}

// SetNotice registers the blocking-notice hook for hard capture failures.
func (o *Orchestrator) SetNotice(fn func(string)) {
	o.mu.Lock()
	o.notice = fn
	o.mu.Unlock()
}

// Open makes the chat popup live. Idempotent.
func (o *Orchestrator) Open() {
	o.mu.Lock()
	if o.open {
		o.mu.Unlock()
		return
	}
	o.open = true
	o.mu.Unlock()
	o.changed()
}

// Close shuts the popup: capture and playback stop and the processing
// indicator is hidden. The transcript survives.
func (o *Orchestrator) Close() {
	o.capture.Stop()
	o.player.Stop()
	o.mu.Lock()
	o.open = false
	o.processing = false
	o.mu.Unlock()
	o.changed()
}

func (o *Orchestrator) IsOpen() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.open
}

func (o *Orchestrator) Processing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.processing
}

// Entries returns a copy of the transcript in insertion order.
func (o *Orchestrator) Entries() []Entry {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Entry, len(o.entries))
	copy(out, o.entries)
	return out
}

// Greet wakes the assistant: fetch the greeting audio, play it, wave.
func (o *Orchestrator) Greet(ctx context.Context) {
	audio, err := o.backend.Greet(ctx)
	if err != nil {
		o.logger.Warn("greeting unavailable", "error", err)
		return
	}
	o.presence.Wake()
	if err := o.player.Play(audio, "greeting"); err != nil {
		o.logger.Warn("greeting playback failed", "error", err)
	}
	o.presence.Animate(presence.Waving)
}

// SendText runs one typed turn: user entry, backend round trip, assistant
// entry, reply audio. The processing indicator is cleared on every path.
func (o *Orchestrator) SendText(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	o.append(User, text)
	o.player.Stop()

	reply, err := o.roundTrip(func() (string, error) {
		return o.backend.ChatText(ctx, text)
	})
	o.finishTurn(ctx, reply, err)
}

// StartVoice begins a capture session for this turn. Results arrive through
// HandleCaptureResult / HandleCaptureError. A failure to even start the
// session takes the same failure path as a mid-session one, so the user gets
// the corrective prompt either way.
func (o *Orchestrator) StartVoice(ctx context.Context) error {
	o.player.Stop()
	err := o.capture.Start(ctx)
	var cerr *capture.Error
	if errors.As(err, &cerr) {
		o.HandleCaptureError(cerr)
		return nil
	}
	return err
}

func (o *Orchestrator) StopVoice() {
	o.capture.Stop()
}

func (o *Orchestrator) VoiceActive() bool {
	return o.capture.Active()
}

// HandleCaptureResult is the capture subsystem's terminal success callback.
// Recognized text re-enters the typed path. A raw recording is sent as
// audio; only the assistant's reply is shown, since the backend does not
// return the recognized text for that path.
func (o *Orchestrator) HandleCaptureResult(ctx context.Context, r capture.Result) {
	if r.Text != "" {
		o.SendText(ctx, r.Text)
		return
	}
	if len(r.Audio) == 0 {
		o.append(Assistant, "I didn't hear anything. Could you try again?")
		return
	}
	o.player.Stop()
	reply, err := o.roundTrip(func() (string, error) {
		return o.backend.ChatAudio(ctx, r.Audio, r.MIMEType)
	})
	o.finishTurn(ctx, reply, err)
}

// HandleCaptureError is the capture subsystem's terminal failure callback.
// Soft failures get a corrective prompt; hard ones also raise a blocking
// notice, since they usually require a settings change.
func (o *Orchestrator) HandleCaptureError(e *capture.Error) {
	o.append(Assistant, correctivePrompt(e))
	if !e.Soft() {
		o.mu.Lock()
		notify := o.notice
		o.mu.Unlock()
		if notify != nil {
			notify(e.Message)
		}
	}
}

// roundTrip wraps a backend call with the processing indicator. The deferred
// clear guarantees the indicator is hidden whatever the outcome.
func (o *Orchestrator) roundTrip(call func() (string, error)) (reply string, err error) {
	o.setProcessing(true)
	defer o.setProcessing(false)
	return call()
}

func (o *Orchestrator) finishTurn(ctx context.Context, reply string, err error) {
	switch {
	case errors.Is(err, api.ErrEmptyReply):
		o.append(Assistant, "I didn't get a response. Please try again.")
	case err != nil:
		msg := userFacing(err)
		o.append(Assistant, msg)
		o.speak(ctx, msg, "error-readout")
	default:
		o.append(Assistant, reply)
		o.speak(ctx, reply, "chat-reply")
	}
}

// ReadAloud speaks arbitrary page text (the click-to-read path).
func (o *Orchestrator) ReadAloud(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	o.presence.Wake()
	o.speak(ctx, text, "paragraph-click")
}

// speak fetches audio for the text and plays it. Failures here only lose
// the voice, never the transcript, so they are logged and swallowed.
func (o *Orchestrator) speak(ctx context.Context, text, source string) {
	audio, err := o.backend.Speak(ctx, text)
	if err != nil {
		o.logger.Warn("speech unavailable", "source", source, "error", err)
		return
	}
	if err := o.player.Play(audio, source); err != nil {
		o.logger.Warn("playback failed", "source", source, "error", err)
	}
}

func (o *Orchestrator) append(s Sender, text string) {
	o.mu.Lock()
	o.entries = append(o.entries, Entry{Sender: s, Text: text})
	o.mu.Unlock()
	o.changed()
}

func (o *Orchestrator) setProcessing(on bool) {
	o.mu.Lock()
	o.processing = on
	o.mu.Unlock()
	o.changed()
}

func (o *Orchestrator) changed() {
	o.mu.Lock()
	fn := o.onChange
	o.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func userFacing(err error) string {
	var berr *api.BackendError
	if errors.As(err, &berr) {
		return "Sorry, something went wrong: " + berr.Error()
	}
	if errors.Is(err, api.ErrEmptyAudio) {
		return "Sorry, I lost my voice for a moment. Please try again."
	}
	return "Sorry, I couldn't reach my brain right now. Please try again."
}

func correctivePrompt(e *capture.Error) string {
	switch e.Kind {
	case capture.KindNoSpeech:
		return "I didn't catch that. Could you say it again?"
	case capture.KindDenied:
		return "I can't hear you because microphone access was denied."
	case capture.KindBusy:
		return "Your microphone seems to be busy with something else."
	case capture.KindUnavailable:
		return "I couldn't find a working microphone."
	default:
		return "Something went wrong while listening. Please try again."
	}
}
