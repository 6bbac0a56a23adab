package capture

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
)

type fakePresence struct {
	mu        sync.Mutex
	listening bool
	history   []bool
}

func (p *fakePresence) SetListening(on bool) {
	p.mu.Lock()
	p.listening = on
	p.history = append(p.history, on)
	p.mu.Unlock()
}

func (p *fakePresence) Listening() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listening
}

type fakeStrategy struct {
	name      string
	available bool

	mu     sync.Mutex
	active bool
	starts int
	stops  int
}

func (s *fakeStrategy) Name() string    { return s.name }
func (s *fakeStrategy) Available() bool { return s.available }

func (s *fakeStrategy) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.starts++
	return nil
}

func (s *fakeStrategy) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.stops++
}

func (s *fakeStrategy) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func TestControllerSingleSession(t *testing.T) {
	pres := &fakePresence{}
	ctrl := NewController(pres, log.New(io.Discard))
	a := &fakeStrategy{name: "a", available: true}
	b := &fakeStrategy{name: "b", available: true}

	ctrl.Use(a)
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start a: %v", err)
	}
	if !pres.Listening() {
		t.Error("should be listening after start")
	}

	// Switching strategies while a session is live evicts the old one.
	ctrl.Use(b)
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start b: %v", err)
	}
	if a.stops != 1 {
		t.Errorf("a.stops = %d, want 1", a.stops)
	}
	if !b.Active() {
		t.Error("b should be active")
	}

	// Restarting the same strategy also evicts first.
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("restart b: %v", err)
	}
	if b.stops != 1 {
		t.Errorf("b.stops = %d, want 1", b.stops)
	}
	if b.starts != 2 {
		t.Errorf("b.starts = %d, want 2", b.starts)
	}
}

func TestControllerStartErrors(t *testing.T) {
	ctrl := NewController(&fakePresence{}, log.New(io.Discard))

	t.Run("no strategy selected", func(t *testing.T) {
		err := ctrl.Start(context.Background())
		cerr, ok := err.(*Error)
		if !ok || cerr.Kind != KindUnavailable {
			t.Errorf("want unavailable error, got %v", err)
		}
	})

	t.Run("strategy unavailable", func(t *testing.T) {
		ctrl.Use(&fakeStrategy{name: "a", available: false})
		err := ctrl.Start(context.Background())
		cerr, ok := err.(*Error)
		if !ok || cerr.Kind != KindUnavailable {
			t.Errorf("want unavailable error, got %v", err)
		}
	})
}

func TestControllerSettlesOnTerminalCallback(t *testing.T) {
	pres := &fakePresence{}
	ctrl := NewController(pres, log.New(io.Discard))
	s := &fakeStrategy{name: "a", available: true}
	ctrl.Use(s)

	var gotResult Result
	var gotErr *Error
	ctrl.OnResult = func(r Result) { gotResult = r }
	ctrl.OnError = func(e *Error) { gotErr = e }

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctrl.Result(Result{Text: "hello"})
	if gotResult.Text != "hello" {
		t.Errorf("result not forwarded: %+v", gotResult)
	}
	if pres.Listening() {
		t.Error("listening should clear after result")
	}
	if ctrl.Active() {
		t.Error("controller should be idle after result")
	}

	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctrl.Failure(&Error{Kind: KindNoSpeech, Message: "nothing"})
	if gotErr == nil || gotErr.Kind != KindNoSpeech {
		t.Errorf("failure not forwarded: %+v", gotErr)
	}
	if pres.Listening() {
		t.Error("listening should clear after failure")
	}
}

func TestControllerStopIsIdempotent(t *testing.T) {
	ctrl := NewController(&fakePresence{}, log.New(io.Discard))
	ctrl.Stop()
	ctrl.Stop()
}

func TestErrorSoftness(t *testing.T) {
	soft := &Error{Kind: KindNoSpeech, Message: "nothing"}
	if !soft.Soft() {
		t.Error("no-speech should be soft")
	}
	for _, k := range []ErrorKind{KindDenied, KindUnavailable, KindBusy, KindOther} {
		if (&Error{Kind: k}).Soft() {
			t.Errorf("%s should be hard", k)
		}
	}
}

func TestClassifyMicError(t *testing.T) {
	cases := []struct {
		msg  string
		want ErrorKind
	}{
		{"exec: \"ffmpeg\": executable file not found in $PATH", KindUnavailable},
		{"ffmpeg exited before capture started: Permission denied", KindDenied},
		{"ffmpeg exited before capture started: Device or resource busy", KindBusy},
		{"ffmpeg exited before capture started: No such process", KindUnavailable},
		{"something odd happened", KindOther},
	}
	for _, tc := range cases {
		got := classifyMicError(errorString(tc.msg))
		if got.Kind != tc.want {
			t.Errorf("classifyMicError(%q) = %s, want %s", tc.msg, got.Kind, tc.want)
		}
	}
}

type errorString string

func (e errorString) Error() string { return string(e) }
