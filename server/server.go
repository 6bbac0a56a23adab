// Package server is a development backend for the tutorial page: the same
// three endpoints the client consumes, backed by real TTS, STT and chat
// services.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const greetingText = "Hello! I'm active now. Click on any paragraph to hear it read aloud, or right-click me to chat."

// Synthesizer turns text into speech audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Transcriber turns recorded audio into text. An empty transcript with a nil
// error means no speech was detected.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, encoding string) (string, error)
}

// Chatter generates a reply for one user message, keeping conversation
// history itself.
type Chatter interface {
	Reply(ctx context.Context, text string) (string, error)
}

// ErrBlocked signals the chat model refused to answer.
var ErrBlocked = errors.New("chat model blocked the response")

type Server struct {
	synth  Synthesizer
	stt    Transcriber
	chat   Chatter
	logger *log.Logger
}

func New(synth Synthesizer, stt Transcriber, chat Chatter, logger *log.Logger) *Server {
	return &Server{synth: synth, stt: stt, chat: chat, logger: logger}
}

func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Post("/api/greet", s.handleGreet)
	r.Post("/api/speak", s.handleSpeak)
	r.Post("/api/chat", s.handleChat)
	return r
}

func (s *Server) ListenAndServe(port int) error {
	log.Info("http", "url", fmt.Sprintf("http://localhost:%d", port))
	return http.ListenAndServe(fmt.Sprintf(":%d", port), s.Router())
}

func (s *Server) handleGreet(w http.ResponseWriter, r *http.Request) {
	if s.synth == nil {
		writeError(w, "Backend TTS service not available", http.StatusServiceUnavailable)
		return
	}
	audio, err := s.synth.Synthesize(r.Context(), greetingText)
	if err != nil {
		s.logger.Error("greet synthesis failed", "error", err)
		writeError(w, "TTS Synthesis failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeAudio(w, audio)
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	if s.synth == nil {
		writeError(w, "Backend TTS service not available", http.StatusServiceUnavailable)
		return
	}
	var payload struct {
		Text *string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Text == nil {
		writeError(w, "Missing 'text' in request body", http.StatusBadRequest)
		return
	}
	text := strings.TrimSpace(*payload.Text)
	if text == "" {
		writeError(w, "'text' cannot be empty", http.StatusBadRequest)
		return
	}
	audio, err := s.synth.Synthesize(r.Context(), text)
	if err != nil {
		s.logger.Error("speak synthesis failed", "error", err)
		writeError(w, "TTS Synthesis failed: "+err.Error(), http.StatusInternalServerError)
		return
	}
	writeAudio(w, audio)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userText, sttTranscript, isAudio, ok := s.chatInput(w, r)
	if !ok {
		return
	}
	if s.chat == nil {
		writeError(w, "Chat service is not available.", http.StatusServiceUnavailable)
		return
	}

	reply, err := s.chat.Reply(r.Context(), userText)
	switch {
	case errors.Is(err, ErrBlocked):
		writeError(w, "I cannot provide a response to that query.", http.StatusBadRequest)
		return
	case err != nil:
		s.logger.Error("chat reply failed", "error", err)
		writeError(w, "Sorry, I had trouble processing that request. Please try again.", http.StatusInternalServerError)
		return
	}

	response := map[string]any{"reply_text": reply}
	if isAudio {
		response["stt_transcript"] = sttTranscript
	}
	writeJSON(w, response, http.StatusOK)
}

// chatInput extracts the user's message from either a JSON body or a
// multipart audio upload, running STT for the latter. STT soft failures are
// forwarded to the chat model as bracketed placeholders so it can apologize
// in its own words.
func (s *Server) chatInput(w http.ResponseWriter, r *http.Request) (userText, sttTranscript string, isAudio, ok bool) {
	contentType := r.Header.Get("Content-Type")

	if strings.Contains(contentType, "application/json") {
		var payload struct {
			Text *string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Text == nil {
			writeError(w, "Invalid JSON or missing 'text' field", http.StatusBadRequest)
			return "", "", false, false
		}
		text := strings.TrimSpace(*payload.Text)
		if text == "" {
			writeError(w, "'text' cannot be empty", http.StatusBadRequest)
			return "", "", false, false
		}
		return text, "", false, true
	}

	if strings.Contains(contentType, "multipart/form-data") {
		if s.stt == nil {
			writeError(w, "Backend STT service not available", http.StatusServiceUnavailable)
			return "", "", true, false
		}
		file, header, err := r.FormFile("audio_blob")
		if err != nil {
			writeError(w, "Request must contain JSON with 'text' or an 'audio_blob' file part", http.StatusBadRequest)
			return "", "", true, false
		}
		defer file.Close()
		audio, err := io.ReadAll(file)
		if err != nil || len(audio) == 0 {
			writeError(w, "Received empty audio file", http.StatusBadRequest)
			return "", "", true, false
		}

		encoding := encodingFor(header.Header.Get("Content-Type"), header.Filename)
		if encoding == "" {
			writeError(w, "Could not determine audio encoding. Please provide WEBM/Opus, OGG/Opus, WAV, MP3, or FLAC.", http.StatusUnsupportedMediaType)
			return "", "", true, false
		}

		s.logger.Info("audio received", "bytes", len(audio), "encoding", encoding, "filename", header.Filename)
		transcript, err := s.stt.Transcribe(r.Context(), audio, encoding)
		switch {
		case err != nil:
			s.logger.Error("stt failed", "error", err)
			return "[Speech recognition error occurred]", "", true, true
		case transcript == "":
			s.logger.Warn("stt returned no usable transcript")
			return "[No speech detected or transcription empty]", "", true, true
		default:
			return transcript, transcript, true, true
		}
	}

	writeError(w, "Request must contain JSON with 'text' or an 'audio_blob' file part", http.StatusBadRequest)
	return "", "", false, false
}

// encodingFor negotiates the audio encoding from the upload's MIME type,
// falling back to the filename extension.
func encodingFor(mimeType, filename string) string {
	mt := strings.ToLower(mimeType)
	switch {
	case strings.Contains(mt, "webm") && (strings.Contains(mt, "opus") || strings.Contains(mt, "vorbis")):
		return "webm"
	case strings.Contains(mt, "ogg"):
		return "ogg"
	case strings.Contains(mt, "wav"):
		return "wav"
	case strings.Contains(mt, "mp3"), strings.Contains(mt, "mpeg"):
		return "mp3"
	case strings.Contains(mt, "flac"):
		return "flac"
	}
	fn := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(fn, ".webm"):
		return "webm"
	case strings.HasSuffix(fn, ".ogg"), strings.HasSuffix(fn, ".opus"):
		return "ogg"
	case strings.HasSuffix(fn, ".wav"):
		return "wav"
	case strings.HasSuffix(fn, ".mp3"):
		return "mp3"
	case strings.HasSuffix(fn, ".flac"):
		return "flac"
	}
	return ""
}

func writeAudio(w http.ResponseWriter, audio []byte) {
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(audio)
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, msg string, status int) {
	writeJSON(w, map[string]string{"error": msg}, status)
}
