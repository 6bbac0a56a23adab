package capture

import (
	"context"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/listen"
)

// Recognizer is the native strategy: one attempt at live speech recognition.
// The microphone feeds a websocket transcription session and the first final
// transcript ends the session.
type Recognizer struct {
	token  string
	mic    MicSource
	sink   Sink
	logger *log.Logger

	mu   sync.Mutex
	sess *recogSession
}

type recogSession struct {
	client *listen.LiveClient
	stream MicStream
	cancel context.CancelFunc
	once   sync.Once
}

func NewRecognizer(token string, mic MicSource, sink Sink, logger *log.Logger) *Recognizer {
	return &Recognizer{token: token, mic: mic, sink: sink, logger: logger}
}

func (r *Recognizer) Name() string { return "native" }

// Available probes the capability: recognition needs both a service token
// and a microphone.
func (r *Recognizer) Available() bool {
	return r.token != "" && r.mic != nil && r.mic.Available()
}

func (r *Recognizer) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess != nil
}

func (r *Recognizer) Start(ctx context.Context) error {
	r.teardownLeftover()

	ctx, cancel := context.WithCancel(ctx)

	cOptions := &interfaces.ClientOptions{
		EnableKeepAlive: true,
	}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          "nova-2",
		Language:       "en-US",
		Punctuate:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     16000,
		SmartFormat:    true,
		InterimResults: false,
		UtteranceEndMs: "1000",
		VadEvents:      true,
	}

	handler := &recogHandler{
		logger:  r.logger,
		finalCh: make(chan string, 1),
		errCh:   make(chan *Error, 1),
	}

	client, err := listen.NewWebSocket(ctx, r.token, cOptions, tOptions, handler)
	if err != nil {
		cancel()
		r.logger.Warn("recognition connection failed", "error", err)
		return &Error{Kind: KindUnavailable, Message: "could not reach the recognition service"}
	}
	if !client.Connect() {
		cancel()
		return &Error{Kind: KindUnavailable, Message: "could not reach the recognition service"}
	}

	stream, err := r.mic.Open(ctx)
	if err != nil {
		client.Stop()
		cancel()
		return classifyMicError(err)
	}

	sess := &recogSession{client: client, stream: stream, cancel: cancel}
	r.mu.Lock()
	r.sess = sess
	r.mu.Unlock()

	// Pump microphone audio into the websocket until the session ends.
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := stream.Read(buf)
			if n > 0 {
				if werr := client.WriteBinary(buf[:n]); werr != nil {
					r.logger.Debug("recognition write failed", "error", werr)
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	// Wait for exactly one terminal outcome.
	go func() {
		select {
		case text := <-handler.finalCh:
			r.finish(sess, text, nil)
		case cerr := <-handler.errCh:
			r.finish(sess, "", cerr)
		case <-ctx.Done():
			r.finish(sess, "", nil)
		}
	}()
	return nil
}

// Stop ends the attempt. With no final transcript heard, that is a soft
// no-speech outcome.
func (r *Recognizer) Stop() {
	r.mu.Lock()
	sess := r.sess
	r.mu.Unlock()
	if sess == nil {
		return
	}
	r.finish(sess, "", nil)
}

func (r *Recognizer) finish(sess *recogSession, text string, cerr *Error) {
	sess.once.Do(func() {
		if err := sess.stream.Stop(); err != nil {
			r.logger.Warn("mic did not stop cleanly", "error", err)
		}
		sess.client.Stop()
		sess.cancel()

		r.mu.Lock()
		if r.sess == sess {
			r.sess = nil
		}
		r.mu.Unlock()

		switch {
		case cerr != nil:
			r.sink.Failure(cerr)
		case strings.TrimSpace(text) == "":
			r.sink.Failure(&Error{Kind: KindNoSpeech, Message: "no speech was detected"})
		default:
			r.logger.Info("hear", "txt", text)
			r.sink.Result(Result{Text: strings.TrimSpace(text)})
		}
	})
}

func (r *Recognizer) teardownLeftover() {
	r.mu.Lock()
	sess := r.sess
	r.sess = nil
	r.mu.Unlock()
	if sess == nil {
		return
	}
	r.logger.Warn("discarding stale recognition session")
	sess.once.Do(func() {
		_ = sess.stream.Stop()
		sess.client.Stop()
		sess.cancel()
	})
}

// recogHandler receives websocket transcription events.
type recogHandler struct {
	logger  *log.Logger
	finalCh chan string
	errCh   chan *Error
}

func (h *recogHandler) Open(ocr *api.OpenResponse) error {
	h.logger.Info("open", "kind", "recognition")
	return nil
}

func (h *recogHandler) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	transcript := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)
	if len(transcript) == 0 {
		return nil
	}
	if mr.IsFinal {
		select {
		case h.finalCh <- transcript:
		default:
		}
	} else {
		h.logger.Debug("hear", "tmp", transcript)
	}
	return nil
}

func (h *recogHandler) Metadata(md *api.MetadataResponse) error {
	h.logger.Debug("metadata", "metadata", md)
	return nil
}

func (h *recogHandler) SpeechStarted(ssr *api.SpeechStartedResponse) error {
	h.logger.Debug("speech start", "timestamp", ssr.Timestamp)
	return nil
}

func (h *recogHandler) UtteranceEnd(ur *api.UtteranceEndResponse) error {
	h.logger.Debug("utterance end", "timestamp", ur.LastWordEnd)
	return nil
}

func (h *recogHandler) Close(ocr *api.CloseResponse) error {
	h.logger.Info("closed", "reason", ocr.Type)
	return nil
}

func (h *recogHandler) Error(er *api.ErrorResponse) error {
	h.logger.Error("recognition error", "type", er.Type, "description", er.Description)
	select {
	case h.errCh <- &Error{Kind: KindOther, Message: er.Description}:
	default:
	}
	return nil
}

func (h *recogHandler) UnhandledEvent(byData []byte) error {
	h.logger.Warn("unhandled event", "data", string(byData))
	return nil
}
