package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	rcerrors "roughcut/internal/errors"
	"roughcut/internal/logging"
)

const (
	fluxPollInterval = 2 * time.Second
	fluxPollBudget   = 2 * time.Minute
)

// ImageClient generates still images for compositions.
type ImageClient struct {
	base   string
	key    string
	outDir string
	client *http.Client
	logger logging.Logger
}

// NewImageClient creates an image-generation adapter writing into outDir.
func NewImageClient(base, key, outDir string, logger logging.Logger) *ImageClient {
	return &ImageClient{
		base:   base,
		key:    key,
		outDir: outDir,
		client: newHTTPClient(),
		logger: logging.OrNop(logger),
	}
}

// ImageRequest describes one generation call.
type ImageRequest struct {
	Prompt string
	Width  int
	Height int
}

// ImageResult points at the generated file.
type ImageResult struct {
	Path   string `json:"path"`
	Prompt string `json:"prompt"`
}

type fluxSubmitResponse struct {
	ID string `json:"id"`
}

type fluxPollResponse struct {
	Status string `json:"status"`
	Result struct {
		Sample string `json:"sample"`
	} `json:"result"`
}

// Generate submits a prompt, polls until the render finishes, and downloads
// the sample. The poll loop is bounded; a stuck job fails with a timeout.
func (c *ImageClient) Generate(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	if req.Prompt == "" {
		return nil, rcerrors.New(rcerrors.KindValidation, "flux", "generate", "prompt is required")
	}
	if req.Width <= 0 {
		req.Width = 1920
	}
	if req.Height <= 0 {
		req.Height = 1080
	}

	payload, err := json.Marshal(map[string]any{
		"prompt": req.Prompt,
		"width":  req.Width,
		"height": req.Height,
	})
	if err != nil {
		return nil, err
	}

	var submitted fluxSubmitResponse
	err = rcerrors.Retry(ctx, rcerrors.DefaultRetryConfig(), func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/flux-pro-1.1", bytes.NewReader(payload))
		if err != nil {
			return err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-key", c.key)
		return doJSON(c.client, httpReq, &submitted)
	})
	if err != nil {
		return nil, err
	}
	if submitted.ID == "" {
		return nil, rcerrors.New(rcerrors.KindNetwork, "flux", "generate", "submission returned no job id")
	}

	sample, err := c.poll(ctx, submitted.ID)
	if err != nil {
		return nil, err
	}

	ext := filepath.Ext(samplePath(sample))
	if ext == "" {
		ext = ".jpg"
	}
	dest := filepath.Join(c.outDir, "image-"+uuid.NewString()+ext)
	err = rcerrors.Retry(ctx, rcerrors.DefaultRetryConfig(), func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, sample, nil)
		if err != nil {
			return err
		}
		return fetchToFile(c.client, httpReq, dest)
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("image written to %s", dest)
	return &ImageResult{Path: dest, Prompt: req.Prompt}, nil
}

func (c *ImageClient) poll(ctx context.Context, jobID string) (string, error) {
	deadline := time.Now().Add(fluxPollBudget)
	endpoint := fmt.Sprintf("%s/get_result?id=%s", c.base, url.QueryEscape(jobID))

	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(fluxPollInterval):
		}

		var polled fluxPollResponse
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return "", err
		}
		httpReq.Header.Set("x-key", c.key)
		if err := doJSON(c.client, httpReq, &polled); err != nil {
			c.logger.Debug("image poll for %s failed: %v", jobID, err)
			continue
		}

		switch polled.Status {
		case "Ready":
			if polled.Result.Sample == "" {
				return "", rcerrors.New(rcerrors.KindNetwork, "flux", "poll", "ready job carried no sample url")
			}
			return polled.Result.Sample, nil
		case "Error", "Content Moderated", "Request Moderated":
			return "", rcerrors.New(rcerrors.KindNetwork, "flux", "poll",
				fmt.Sprintf("generation failed with status %s", polled.Status))
		}
	}
	return "", rcerrors.New(rcerrors.KindNetwork, "flux", "poll",
		fmt.Sprintf("generation %s did not finish within %s", jobID, fluxPollBudget))
}

// samplePath strips the query string so the extension survives.
func samplePath(sample string) string {
	if u, err := url.Parse(sample); err == nil && u.Path != "" {
		return u.Path
	}
	return "image.jpg"
}
