package buffered

import (
	"bytes"
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	platformconfig "earwatch-server-go/internal/platform/config"
)

// WhisperTranscriber calls the OpenAI-compatible audio transcription API
// once per flush window.
type WhisperTranscriber struct {
	client *openai.Client
	model  string
}

// NewWhisperTranscriber builds the production transcriber from config.
func NewWhisperTranscriber(cfg platformconfig.BufferedConfig) (*WhisperTranscriber, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("buffered backend requires an api key")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}

	return &WhisperTranscriber{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}, nil
}

// Transcribe sends one WAV-wrapped window and maps the response to a single
// transcript. Confidence is derived from the segment no-speech probabilities
// when the provider reports them.
func (t *WhisperTranscriber) Transcribe(ctx context.Context, wav []byte) (string, float64, error) {
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: "window.wav",
		Reader:   bytes.NewReader(wav),
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return "", 0, fmt.Errorf("transcription call: %w", err)
	}

	confidence := 1.0
	if len(resp.Segments) > 0 {
		var noSpeech float64
		for _, seg := range resp.Segments {
			noSpeech += seg.NoSpeechProb
		}
		confidence = 1 - noSpeech/float64(len(resp.Segments))
		if confidence < 0 {
			confidence = 0
		}
	}

	return resp.Text, confidence, nil
}
