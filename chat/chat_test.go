package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/charmbracelet/log"

	"chitti/api"
	"chitti/capture"
	"chitti/presence"
)

type fakeBackend struct {
	mu         sync.Mutex
	greetAudio []byte
	greetErr   error
	reply      string
	replyErr   error

	chatTexts  []string
	chatAudios [][]byte
	chatMimes  []string
	spoken     []string

	onChat func()
}

func (b *fakeBackend) Greet(context.Context) ([]byte, error) {
	return b.greetAudio, b.greetErr
}

func (b *fakeBackend) Speak(_ context.Context, text string) ([]byte, error) {
	b.mu.Lock()
	b.spoken = append(b.spoken, text)
	b.mu.Unlock()
	return []byte("tts:" + text), nil
}

func (b *fakeBackend) ChatText(_ context.Context, text string) (string, error) {
	b.mu.Lock()
	b.chatTexts = append(b.chatTexts, text)
	hook := b.onChat
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	return b.reply, b.replyErr
}

func (b *fakeBackend) ChatAudio(_ context.Context, data []byte, mimeType string) (string, error) {
	b.mu.Lock()
	b.chatAudios = append(b.chatAudios, data)
	b.chatMimes = append(b.chatMimes, mimeType)
	hook := b.onChat
	b.mu.Unlock()
	if hook != nil {
		hook()
	}
	return b.reply, b.replyErr
}

type playedAudio struct {
	data   []byte
	source string
}

type fakePlayer struct {
	mu     sync.Mutex
	played []playedAudio
	stops  int
}

func (p *fakePlayer) Play(data []byte, source string) error {
	p.mu.Lock()
	p.played = append(p.played, playedAudio{data: data, source: source})
	p.mu.Unlock()
	return nil
}

func (p *fakePlayer) Stop() {
	p.mu.Lock()
	p.stops++
	p.mu.Unlock()
}

func (p *fakePlayer) Speaking() bool { return false }

type fakeCapture struct {
	active bool
	starts int
	stops  int
}

func (c *fakeCapture) Start(context.Context) error {
	c.starts++
	c.active = true
	return nil
}

func (c *fakeCapture) Stop() {
	c.stops++
	c.active = false
}

func (c *fakeCapture) Active() bool { return c.active }

type fakePresenter struct {
	wakes      int
	animations []presence.Animation
}

func (p *fakePresenter) Wake() { p.wakes++ }

func (p *fakePresenter) Animate(a presence.Animation) {
	p.animations = append(p.animations, a)
}

func newTestOrchestrator() (*Orchestrator, *fakeBackend, *fakePlayer, *fakeCapture, *fakePresenter) {
	backend := &fakeBackend{reply: "4"}
	player := &fakePlayer{}
	cap := &fakeCapture{}
	pres := &fakePresenter{}
	o := New(backend, player, cap, pres, log.New(io.Discard))
	return o, backend, player, cap, pres
}

func lastPlayed(t *testing.T, p *fakePlayer) playedAudio {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.played) == 0 {
		t.Fatal("nothing was played")
	}
	return p.played[len(p.played)-1]
}

func TestSendText(t *testing.T) {
	t.Run("successful turn", func(t *testing.T) {
		o, backend, player, _, _ := newTestOrchestrator()
		backend.onChat = func() {
			if !o.Processing() {
				t.Error("processing indicator should be on during the round trip")
			}
		}

		o.SendText(context.Background(), "What is 2+2?")

		entries := o.Entries()
		if len(entries) != 2 {
			t.Fatalf("entries = %d, want 2", len(entries))
		}
		if entries[0].Sender != User || entries[0].Text != "What is 2+2?" {
			t.Errorf("user entry = %+v", entries[0])
		}
		if entries[1].Sender != Assistant || entries[1].Text != "4" {
			t.Errorf("assistant entry = %+v", entries[1])
		}
		got := lastPlayed(t, player)
		if got.source != "chat-reply" || string(got.data) != "tts:4" {
			t.Errorf("played %q from %q", got.data, got.source)
		}
		if o.Processing() {
			t.Error("processing indicator stuck after the turn")
		}
	})

	t.Run("backend failure becomes one assistant entry", func(t *testing.T) {
		o, backend, player, _, _ := newTestOrchestrator()
		backend.replyErr = &api.BackendError{Status: 500, Message: "The assistant is overloaded"}

		o.SendText(context.Background(), "hello")

		entries := o.Entries()
		if len(entries) != 2 {
			t.Fatalf("entries = %d, want 2", len(entries))
		}
		want := "Sorry, something went wrong: The assistant is overloaded"
		if entries[1].Text != want {
			t.Errorf("assistant entry = %q, want %q", entries[1].Text, want)
		}
		got := lastPlayed(t, player)
		if got.source != "error-readout" {
			t.Errorf("error should be read aloud, played from %q", got.source)
		}
		if o.Processing() {
			t.Error("processing indicator stuck after the failure")
		}
	})

	t.Run("empty reply is not read aloud", func(t *testing.T) {
		o, backend, player, _, _ := newTestOrchestrator()
		backend.replyErr = api.ErrEmptyReply

		o.SendText(context.Background(), "hello")

		entries := o.Entries()
		if len(entries) != 2 {
			t.Fatalf("entries = %d, want 2", len(entries))
		}
		if entries[1].Text != "I didn't get a response. Please try again." {
			t.Errorf("assistant entry = %q", entries[1].Text)
		}
		player.mu.Lock()
		defer player.mu.Unlock()
		if len(player.played) != 0 {
			t.Errorf("nothing should play, got %d utterances", len(player.played))
		}
	})

	t.Run("blank input is dropped", func(t *testing.T) {
		o, backend, _, _, _ := newTestOrchestrator()
		o.SendText(context.Background(), "   ")
		if len(o.Entries()) != 0 {
			t.Error("blank input should not enter the transcript")
		}
		if len(backend.chatTexts) != 0 {
			t.Error("blank input should not reach the backend")
		}
	})
}

func TestGreet(t *testing.T) {
	t.Run("plays and waves", func(t *testing.T) {
		o, backend, player, _, pres := newTestOrchestrator()
		backend.greetAudio = []byte("hello-audio")

		o.Greet(context.Background())

		if pres.wakes != 1 {
			t.Errorf("wakes = %d", pres.wakes)
		}
		got := lastPlayed(t, player)
		if got.source != "greeting" || string(got.data) != "hello-audio" {
			t.Errorf("played %q from %q", got.data, got.source)
		}
		if len(pres.animations) != 1 || pres.animations[0] != presence.Waving {
			t.Errorf("animations = %v", pres.animations)
		}
	})

	t.Run("failure stays quiet", func(t *testing.T) {
		o, backend, player, _, pres := newTestOrchestrator()
		backend.greetErr = errors.New("down")

		o.Greet(context.Background())

		if pres.wakes != 0 {
			t.Error("a failed greeting should not wake the assistant")
		}
		if len(player.played) != 0 {
			t.Error("nothing should play")
		}
		if len(o.Entries()) != 0 {
			t.Error("a failed greeting should not enter the transcript")
		}
	})
}

func TestReadAloud(t *testing.T) {
	o, backend, player, _, pres := newTestOrchestrator()

	o.ReadAloud(context.Background(), "  Computers store everything as numbers.  ")

	if pres.wakes != 1 {
		t.Errorf("wakes = %d", pres.wakes)
	}
	if len(backend.spoken) != 1 || backend.spoken[0] != "Computers store everything as numbers." {
		t.Errorf("spoken = %v", backend.spoken)
	}
	if got := lastPlayed(t, player); got.source != "paragraph-click" {
		t.Errorf("source = %q", got.source)
	}
	if len(o.Entries()) != 0 {
		t.Error("reading the page aloud is not a chat turn")
	}
}

func TestHandleCaptureResult(t *testing.T) {
	t.Run("recognized text is a normal turn", func(t *testing.T) {
		o, backend, _, _, _ := newTestOrchestrator()
		o.HandleCaptureResult(context.Background(), capture.Result{Text: "what is go"})

		if len(backend.chatTexts) != 1 || backend.chatTexts[0] != "what is go" {
			t.Errorf("chatTexts = %v", backend.chatTexts)
		}
		entries := o.Entries()
		if len(entries) != 2 || entries[0].Sender != User {
			t.Fatalf("entries = %+v", entries)
		}
	})

	t.Run("recording goes up as audio, reply only", func(t *testing.T) {
		o, backend, _, _, _ := newTestOrchestrator()
		o.HandleCaptureResult(context.Background(), capture.Result{
			Audio:    []byte("oggbytes"),
			MIMEType: "audio/ogg;codecs=opus",
		})

		if len(backend.chatAudios) != 1 || string(backend.chatAudios[0]) != "oggbytes" {
			t.Fatalf("chatAudios = %v", backend.chatAudios)
		}
		if backend.chatMimes[0] != "audio/ogg;codecs=opus" {
			t.Errorf("mime = %q", backend.chatMimes[0])
		}
		// The backend does not echo the recognized words for this path, so
		// the transcript gets only the assistant's side.
		entries := o.Entries()
		if len(entries) != 1 || entries[0].Sender != Assistant || entries[0].Text != "4" {
			t.Fatalf("entries = %+v", entries)
		}
	})

	t.Run("empty result never reaches the backend", func(t *testing.T) {
		o, backend, _, _, _ := newTestOrchestrator()
		o.HandleCaptureResult(context.Background(), capture.Result{})

		if len(backend.chatTexts)+len(backend.chatAudios) != 0 {
			t.Error("empty capture must not produce a backend call")
		}
		entries := o.Entries()
		if len(entries) != 1 || entries[0].Sender != Assistant {
			t.Fatalf("entries = %+v", entries)
		}
	})
}

func TestHandleCaptureError(t *testing.T) {
	t.Run("soft failure is a corrective prompt", func(t *testing.T) {
		o, _, _, _, _ := newTestOrchestrator()
		var notices []string
		o.SetNotice(func(msg string) { notices = append(notices, msg) })

		o.HandleCaptureError(&capture.Error{Kind: capture.KindNoSpeech, Message: "nothing was captured"})

		entries := o.Entries()
		if len(entries) != 1 || entries[0].Sender != Assistant {
			t.Fatalf("entries = %+v", entries)
		}
		if len(notices) != 0 {
			t.Errorf("soft failures must not raise a notice, got %v", notices)
		}
	})

	t.Run("hard failure also raises a notice", func(t *testing.T) {
		o, _, _, _, _ := newTestOrchestrator()
		var notices []string
		o.SetNotice(func(msg string) { notices = append(notices, msg) })

		o.HandleCaptureError(&capture.Error{Kind: capture.KindDenied, Message: "microphone access was denied"})

		if len(o.Entries()) != 1 {
			t.Fatalf("entries = %+v", o.Entries())
		}
		if len(notices) != 1 || notices[0] != "microphone access was denied" {
			t.Errorf("notices = %v", notices)
		}
	})
}

func TestOpenClose(t *testing.T) {
	o, _, player, cap, _ := newTestOrchestrator()

	o.Open()
	o.Open()
	if !o.IsOpen() {
		t.Fatal("popup should be open")
	}

	o.SendText(context.Background(), "hello")
	before := len(o.Entries())

	o.Close()
	if o.IsOpen() {
		t.Error("popup should be closed")
	}
	if cap.stops == 0 {
		t.Error("closing must stop capture")
	}
	if player.stops == 0 {
		t.Error("closing must stop playback")
	}
	if o.Processing() {
		t.Error("closing must clear the processing indicator")
	}
	if len(o.Entries()) != before {
		t.Error("the transcript must survive a close")
	}
}

type failingCapture struct {
	fakeCapture
	startErr error
}

func (c *failingCapture) Start(context.Context) error { return c.startErr }

func TestStartVoiceFailure(t *testing.T) {
	t.Run("denied microphone prompts and notifies", func(t *testing.T) {
		backend := &fakeBackend{reply: "4"}
		cap := &failingCapture{startErr: &capture.Error{Kind: capture.KindDenied, Message: "microphone access was denied"}}
		o := New(backend, &fakePlayer{}, cap, &fakePresenter{}, log.New(io.Discard))
		var notices []string
		o.SetNotice(func(msg string) { notices = append(notices, msg) })

		if err := o.StartVoice(context.Background()); err != nil {
			t.Fatalf("a classified capture failure should be handled, got %v", err)
		}
		entries := o.Entries()
		if len(entries) != 1 || entries[0].Sender != Assistant {
			t.Fatalf("entries = %+v", entries)
		}
		if len(notices) != 1 || notices[0] != "microphone access was denied" {
			t.Errorf("notices = %v", notices)
		}
	})

	t.Run("other errors pass through", func(t *testing.T) {
		backend := &fakeBackend{}
		cap := &failingCapture{startErr: errors.New("plain failure")}
		o := New(backend, &fakePlayer{}, cap, &fakePresenter{}, log.New(io.Discard))

		if err := o.StartVoice(context.Background()); err == nil {
			t.Fatal("want the error back")
		}
		if len(o.Entries()) != 0 {
			t.Errorf("entries = %+v", o.Entries())
		}
	})
}

func TestVoiceLifecycle(t *testing.T) {
	o, _, player, cap, _ := newTestOrchestrator()

	if err := o.StartVoice(context.Background()); err != nil {
		t.Fatal(err)
	}
	if player.stops == 0 {
		t.Error("starting voice input must interrupt playback")
	}
	if !o.VoiceActive() {
		t.Error("voice should be active")
	}
	o.StopVoice()
	if o.VoiceActive() {
		t.Error("voice should be inactive")
	}
	if cap.starts != 1 || cap.stops != 1 {
		t.Errorf("starts=%d stops=%d", cap.starts, cap.stops)
	}
}
