// Package playback plays one assistant utterance at a time. Starting a new
// one always tears down the previous one first, and every termination path
// releases the audio file exactly once.
package playback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/charmbracelet/log"
)

// Presence is the slice of the visual state the player owns.
type Presence interface {
	SetSpeaking(bool)
}

// Process is a handle on a running playback subprocess.
type Process interface {
	Wait() error
	Kill() error
}

// Launcher starts playback of the audio file at path.
type Launcher func(ctx context.Context, path string) (Process, error)

type Player struct {
	launcher Launcher
	presence Presence
	logger   *log.Logger
	tmpDir   string

	mu      sync.Mutex
	current *session
}

// session holds one utterance: its temp file and its subprocess. finish is
// safe to call from any number of termination paths.
type session struct {
	player *Player
	path   string
	proc   Process
	cancel context.CancelFunc
	source string
	once   sync.Once
	done   chan struct{}
}

func New(presence Presence, logger *log.Logger) *Player {
	return &Player{
		launcher: launchFFplay,
		presence: presence,
		logger:   logger,
		tmpDir:   os.TempDir(),
	}
}

// SetLauncher replaces the playback subprocess factory. Tests use this.
func (p *Player) SetLauncher(l Launcher) {
	p.launcher = l
}

// Play stops whatever is playing, writes the payload to a fresh temp file
// and starts playing it. The source tag only shows up in logs.
func (p *Player) Play(data []byte, source string) error {
	p.Stop()

	if len(data) == 0 {
		return errors.New("nothing to play")
	}

	f, err := os.CreateTemp(p.tmpDir, "chitti-*.mp3")
	if err != nil {
		return fmt.Errorf("creating audio file: %w", err)
	}
	path := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("writing audio file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("closing audio file: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	proc, err := p.launcher(ctx, path)
	if err != nil {
		cancel()
		os.Remove(path)
		return fmt.Errorf("starting playback: %w", err)
	}

	s := &session{
		player: p,
		path:   path,
		proc:   proc,
		cancel: cancel,
		source: source,
		done:   make(chan struct{}),
	}
	// Register the session and raise the speaking flag in one critical
	// section, so a concurrent Stop cannot slip between them and leave the
	// flag raised with no session to clear it.
	p.mu.Lock()
	p.current = s
	p.presence.SetSpeaking(true)
	p.mu.Unlock()

	p.logger.Info("play", "source", source, "bytes", len(data))

	go func() {
		err := proc.Wait()
		if err != nil {
			p.logger.Warn("playback ended with error", "source", source, "error", err)
		}
		s.finish()
	}()
	return nil
}

// Stop terminates the current utterance, if any. Idempotent.
func (p *Player) Stop() {
	p.mu.Lock()
	s := p.current
	p.mu.Unlock()
	if s == nil {
		return
	}
	_ = s.proc.Kill()
	s.finish()
}

func (p *Player) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// finish releases the session's resources. It may be reached from Stop, a
// playback error, or the natural end of the audio; the first caller does the
// work and the rest wait for it to complete.
func (s *session) finish() {
	s.once.Do(func() {
		defer close(s.done)
		s.cancel()
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			s.player.logger.Warn("could not remove audio file", "path", s.path, "error", err)
		}
		s.player.mu.Lock()
		wasCurrent := s.player.current == s
		if wasCurrent {
			s.player.current = nil
		}
		s.player.mu.Unlock()
		if wasCurrent {
			s.player.presence.SetSpeaking(false)
		}
		s.player.logger.Debug("playback finished", "source", s.source)
	})
	<-s.done
}

type cmdProcess struct {
	cmd *exec.Cmd
}

func (c *cmdProcess) Wait() error { return c.cmd.Wait() }

func (c *cmdProcess) Kill() error {
	if c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Process.Kill()
}

func launchFFplay(ctx context.Context, path string) (Process, error) {
	cmd := exec.CommandContext(ctx, "ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", path)
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &cmdProcess{cmd: cmd}, nil
}
