package server

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	prerecorded "github.com/deepgram/deepgram-go-sdk/pkg/api/prerecorded/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/pkg/client/prerecorded"
)

// DeepgramTranscriber recognizes recorded speech with the Deepgram
// prerecorded API. Container formats are detected from the payload; the
// negotiated encoding is only used for logging and validation upstream.
type DeepgramTranscriber struct {
	token string
}

func NewDeepgramTranscriber(token string) *DeepgramTranscriber {
	return &DeepgramTranscriber{token: token}
}

func (d *DeepgramTranscriber) Transcribe(ctx context.Context, audio []byte, encoding string) (string, error) {
	c := client.New(d.token, &interfaces.ClientOptions{})
	dg := prerecorded.New(c)

	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       "nova-2",
		Language:    "en-US",
		Punctuate:   true,
		SmartFormat: true,
	}

	res, err := dg.FromStream(ctx, bytes.NewReader(audio), options)
	if err != nil {
		return "", fmt.Errorf("deepgram transcription: %w", err)
	}
	if res == nil || len(res.Results.Channels) == 0 || len(res.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return strings.TrimSpace(res.Results.Channels[0].Alternatives[0].Transcript), nil
}
