package server

import (
	"context"
	"fmt"
	"time"

	"github.com/haguro/elevenlabs-go"
)

// ElevenLabsSynthesizer produces MP3 speech through the ElevenLabs API.
type ElevenLabsSynthesizer struct {
	apiKey  string
	voiceID string
}

func NewElevenLabsSynthesizer(apiKey string) *ElevenLabsSynthesizer {
	return &ElevenLabsSynthesizer{
		apiKey:  apiKey,
		voiceID: "pKLLpypGseGMUjkb5fEZ",
	}
}

func (e *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	client := elevenlabs.NewClient(ctx, e.apiKey, 30*time.Second)
	ttsReq := elevenlabs.TextToSpeechRequest{
		Text:    text,
		ModelID: "eleven_turbo_v2_5",
	}

	audio, err := client.TextToSpeech(e.voiceID, ttsReq)
	if err != nil {
		return nil, fmt.Errorf("failed to generate speech: %w", err)
	}
	return audio, nil
}
