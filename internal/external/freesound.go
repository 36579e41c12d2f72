package external

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"

	rcerrors "roughcut/internal/errors"
	"roughcut/internal/logging"
)

// SoundClient searches and downloads sound effects.
type SoundClient struct {
	base   string
	key    string
	outDir string
	client *http.Client
	logger logging.Logger
}

// NewSoundClient creates a sound-effect adapter writing previews into outDir.
func NewSoundClient(base, key, outDir string, logger logging.Logger) *SoundClient {
	return &SoundClient{
		base:   base,
		key:    key,
		outDir: outDir,
		client: newHTTPClient(),
		logger: logging.OrNop(logger),
	}
}

// Sound is one search hit.
type Sound struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Duration float64 `json:"duration"`
	Preview  string  `json:"preview"`
	Path     string  `json:"path,omitempty"`
}

type searchResponse struct {
	Results []struct {
		ID       int               `json:"id"`
		Name     string            `json:"name"`
		Duration float64           `json:"duration"`
		Previews map[string]string `json:"previews"`
	} `json:"results"`
}

// Search queries the catalog and optionally downloads the top previews.
func (c *SoundClient) Search(ctx context.Context, query string, limit int, download bool) ([]Sound, error) {
	if query == "" {
		return nil, rcerrors.New(rcerrors.KindValidation, "freesound", "search", "query is required")
	}
	if limit <= 0 || limit > 20 {
		limit = 5
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("fields", "id,name,duration,previews")
	params.Set("page_size", strconv.Itoa(limit))
	params.Set("token", c.key)
	endpoint := fmt.Sprintf("%s/search/text/?%s", c.base, params.Encode())

	var parsed searchResponse
	err := rcerrors.Retry(ctx, rcerrors.DefaultRetryConfig(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		return doJSON(c.client, req, &parsed)
	})
	if err != nil {
		return nil, err
	}

	sounds := make([]Sound, 0, len(parsed.Results))
	for _, hit := range parsed.Results {
		sound := Sound{
			ID:       hit.ID,
			Name:     hit.Name,
			Duration: hit.Duration,
			Preview:  hit.Previews["preview-hq-mp3"],
		}
		if sound.Preview == "" {
			sound.Preview = hit.Previews["preview-lq-mp3"]
		}
		if download && sound.Preview != "" {
			dest := filepath.Join(c.outDir, fmt.Sprintf("sfx-%d.mp3", hit.ID))
			if err := c.fetch(ctx, sound.Preview, dest); err != nil {
				c.logger.Warn("preview download for sound %d failed: %v", hit.ID, err)
			} else {
				sound.Path = dest
			}
		}
		sounds = append(sounds, sound)
	}
	c.logger.Info("sound search %q returned %d hit(s)", query, len(sounds))
	return sounds, nil
}

func (c *SoundClient) fetch(ctx context.Context, preview, dest string) error {
	return rcerrors.Retry(ctx, rcerrors.DefaultRetryConfig(), func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, preview, nil)
		if err != nil {
			return err
		}
		return fetchToFile(c.client, req, dest)
	})
}
