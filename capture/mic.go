package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MicStream is a live microphone feed. Stop releases the device and is safe
// to call more than once.
type MicStream interface {
	io.Reader
	Stop() error
}

// MicSource acquires the microphone. Acquisition is lazy: nothing is opened
// until a capture session actually starts.
type MicSource interface {
	Open(ctx context.Context) (MicStream, error)
	Available() bool
}

// Encoding of the mic stream handed to consumers.
const (
	EncodingPCM16 = "pcm16" // raw s16le, for the recognition websocket
	EncodingOgg   = "ogg"   // ogg/opus container, for upload
)

// MIMETypeOgg tags recorded payloads for the backend's encoding negotiation.
const MIMETypeOgg = "audio/ogg;codecs=opus"

// FFmpegMic captures microphone audio through an ffmpeg subprocess.
type FFmpegMic struct {
	Command    string
	Format     string // ffmpeg input format, e.g. pulse, alsa, avfoundation
	Device     string
	SampleRate int
	Channels   int
	Encoding   string
}

func NewFFmpegMic(format, device, encoding string) *FFmpegMic {
	return &FFmpegMic{
		Command:    "ffmpeg",
		Format:     format,
		Device:     device,
		SampleRate: 16000,
		Channels:   1,
		Encoding:   encoding,
	}
}

func (m *FFmpegMic) Available() bool {
	_, err := exec.LookPath(m.Command)
	return err == nil
}

func (m *FFmpegMic) Open(ctx context.Context) (MicStream, error) {
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", m.Format,
		"-i", m.Device,
		"-ac", strconv.Itoa(m.Channels),
		"-ar", strconv.Itoa(m.SampleRate),
	}
	switch m.Encoding {
	case EncodingOgg:
		args = append(args, "-c:a", "libopus", "-f", "ogg", "-")
	default:
		args = append(args, "-f", "s16le", "-")
	}

	cmd := exec.CommandContext(ctx, m.Command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// ffmpeg fails fast on a missing or busy device. Give it a moment so we
	// can report that as an open error rather than a mid-session one.
	select {
	case err := <-waitErr:
		msg := strings.TrimSpace(stderr.String())
		if err != nil {
			return nil, fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("ffmpeg exited before capture started: %s", msg)
	case <-time.After(250 * time.Millisecond):
	}

	return &ffmpegStream{stdout: stdout, stderr: &stderr, process: cmd.Process, waitErr: waitErr}, nil
}

type ffmpegStream struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *ffmpegStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeExit(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			if err, ok := <-s.waitErr; ok {
				s.stopErr = normalizeExit(err)
			}
		}

		if err := s.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = err
			}
		}
	})
	return s.stopErr
}

func normalizeExit(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// classifyMicError maps an acquisition failure onto the capture taxonomy.
func classifyMicError(err error) *Error {
	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case errors.Is(err, exec.ErrNotFound), strings.Contains(lower, "executable file not found"):
		return &Error{Kind: KindUnavailable, Message: "no capture tool found (is ffmpeg installed?)"}
	case strings.Contains(lower, "permission denied"), strings.Contains(lower, "access denied"):
		return &Error{Kind: KindDenied, Message: "microphone access was denied"}
	case strings.Contains(lower, "busy"), strings.Contains(lower, "in use"):
		return &Error{Kind: KindBusy, Message: "the microphone is busy"}
	case strings.Contains(lower, "no such"), strings.Contains(lower, "not found"), strings.Contains(lower, "cannot open"):
		return &Error{Kind: KindUnavailable, Message: "no microphone device found"}
	default:
		return &Error{Kind: KindOther, Message: msg}
	}
}
