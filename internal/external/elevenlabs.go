package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/google/uuid"

	rcerrors "roughcut/internal/errors"
	"roughcut/internal/logging"
)

// DefaultVoiceID is a neutral narration voice.
const DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

// VoiceClient synthesizes narration audio.
type VoiceClient struct {
	base   string
	key    string
	outDir string
	client *http.Client
	logger logging.Logger
}

// NewVoiceClient creates a voiceover adapter writing MP3 files into outDir.
func NewVoiceClient(base, key, outDir string, logger logging.Logger) *VoiceClient {
	return &VoiceClient{
		base:   base,
		key:    key,
		outDir: outDir,
		client: newHTTPClient(),
		logger: logging.OrNop(logger),
	}
}

// VoiceRequest describes one synthesis call.
type VoiceRequest struct {
	Text      string
	VoiceID   string
	Stability float64
}

// VoiceResult points at the generated audio file.
type VoiceResult struct {
	Path    string `json:"path"`
	VoiceID string `json:"voiceId"`
}

// Synthesize generates narration audio and saves it under the voice assets
// directory. Transient network failures retry with backoff.
func (c *VoiceClient) Synthesize(ctx context.Context, req VoiceRequest) (*VoiceResult, error) {
	if req.Text == "" {
		return nil, rcerrors.New(rcerrors.KindValidation, "elevenlabs", "synthesize", "text is required")
	}
	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}
	stability := req.Stability
	if stability <= 0 {
		stability = 0.5
	}

	payload, err := json.Marshal(map[string]any{
		"text":     req.Text,
		"model_id": "eleven_multilingual_v2",
		"voice_settings": map[string]any{
			"stability":        stability,
			"similarity_boost": 0.75,
		},
	})
	if err != nil {
		return nil, err
	}

	dest := filepath.Join(c.outDir, "voiceover-"+uuid.NewString()+".mp3")
	url := fmt.Sprintf("%s/text-to-speech/%s", c.base, voiceID)

	err = rcerrors.Retry(ctx, rcerrors.DefaultRetryConfig(), func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("xi-api-key", c.key)
		httpReq.Header.Set("Accept", "audio/mpeg")
		return fetchToFile(c.client, httpReq, dest)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("voiceover written to %s (%d chars of text)", dest, len(req.Text))
	return &VoiceResult{Path: dest, VoiceID: voiceID}, nil
}
