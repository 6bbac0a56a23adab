package capture

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Recorder is the manual strategy: it accumulates encoded audio chunks from
// the microphone and hands the concatenated payload to the sink when the
// session ends. Recording stops by itself once the duration limit elapses.
type Recorder struct {
	mic      MicSource
	sink     Sink
	logger   *log.Logger
	limit    time.Duration
	minBytes int
	mimeType string

	mu   sync.Mutex
	sess *recordSession
}

type recordSession struct {
	stream MicStream
	cancel context.CancelFunc
	timer  *time.Timer
	done   chan struct{}

	mu     sync.Mutex
	chunks [][]byte
}

func NewRecorder(mic MicSource, sink Sink, limit time.Duration, minBytes int, logger *log.Logger) *Recorder {
	return &Recorder{
		mic:      mic,
		sink:     sink,
		logger:   logger,
		limit:    limit,
		minBytes: minBytes,
		mimeType: MIMETypeOgg,
	}
}

func (r *Recorder) Name() string { return "manual" }

func (r *Recorder) Available() bool {
	return r.mic != nil && r.mic.Available()
}

func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess != nil
}

// Start acquires the microphone and begins accumulating chunks. A leftover
// session from an unobserved termination is torn down first.
func (r *Recorder) Start(ctx context.Context) error {
	r.teardownLeftover()

	ctx, cancel := context.WithCancel(ctx)
	stream, err := r.mic.Open(ctx)
	if err != nil {
		cancel()
		return classifyMicError(err)
	}

	sess := &recordSession{
		stream: stream,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	// Register the session before arming the limit timer: a timer that fires
	// before registration would find nothing to stop and the session would
	// lose its auto-stop. Same critical section, so Stop never sees a
	// session without a timer.
	r.mu.Lock()
	r.sess = sess
	sess.timer = time.AfterFunc(r.limit, func() {
		r.logger.Info("recording limit reached", "limit", r.limit)
		r.Stop()
	})
	r.mu.Unlock()

	go func() {
		defer close(sess.done)
		buf := make([]byte, 4096)
		for {
			n, err := stream.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				sess.mu.Lock()
				sess.chunks = append(sess.chunks, chunk)
				sess.mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()
	return nil
}

// Stop ends the session, releases the microphone, and delivers the terminal
// outcome: the payload if it is worth sending, a soft failure otherwise.
func (r *Recorder) Stop() {
	r.mu.Lock()
	sess := r.sess
	r.sess = nil
	r.mu.Unlock()
	if sess == nil {
		return
	}

	sess.timer.Stop()
	if err := sess.stream.Stop(); err != nil {
		r.logger.Warn("mic did not stop cleanly", "error", err)
	}

	select {
	case <-sess.done:
	case <-time.After(2 * time.Second):
		r.logger.Warn("mic reader did not drain in time")
	}
	sess.cancel()

	sess.mu.Lock()
	chunks := sess.chunks
	sess.chunks = nil
	sess.mu.Unlock()

	if len(chunks) == 0 {
		r.sink.Failure(&Error{Kind: KindNoSpeech, Message: "nothing was captured"})
		return
	}

	var total int
	for _, c := range chunks {
		total += len(c)
	}
	payload := make([]byte, 0, total)
	for _, c := range chunks {
		payload = append(payload, c...)
	}

	if len(payload) < r.minBytes {
		r.logger.Info("recording discarded", "bytes", len(payload), "min", r.minBytes)
		r.sink.Failure(&Error{Kind: KindNoSpeech, Message: "the recording was too short"})
		return
	}

	r.logger.Info("recording complete", "bytes", len(payload), "chunks", len(chunks))
	r.sink.Result(Result{Audio: payload, MIMEType: r.mimeType})
}

// teardownLeftover releases a stale session without delivering its outcome.
func (r *Recorder) teardownLeftover() {
	r.mu.Lock()
	sess := r.sess
	r.sess = nil
	r.mu.Unlock()
	if sess == nil {
		return
	}
	r.logger.Warn("discarding stale recording session")
	sess.timer.Stop()
	_ = sess.stream.Stop()
	sess.cancel()
}
