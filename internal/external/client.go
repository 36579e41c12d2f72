// Package external holds thin adapters for the optional generation services:
// voiceover synthesis, sound-effect search, and image generation. Each
// adapter writes its artifacts under the configured assets directory and
// wraps failures in the broker error envelope. Credentials are injected at
// construction; error messages name the environment variable, never the
// value.
package external

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	rcerrors "roughcut/internal/errors"
)

const (
	requestTimeout  = 60 * time.Second
	maxResponseSize = 64 << 20 // generated audio and images stay well under this
)

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}

// doJSON performs a request and decodes a JSON response into out.
func doJSON(client *http.Client, req *http.Request, out any) error {
	resp, err := client.Do(req)
	if err != nil {
		return rcerrors.Wrap(err, rcerrors.KindNetwork, "external", "request",
			fmt.Sprintf("%s %s", req.Method, req.URL.Host))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return rcerrors.Wrap(err, rcerrors.KindNetwork, "external", "request", "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return rcerrors.New(rcerrors.KindNetwork, "external", "request",
			fmt.Sprintf("%s returned %d", req.URL.Host, resp.StatusCode)).
			WithDetail("status", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return rcerrors.Wrap(err, rcerrors.KindNetwork, "external", "request", "decode response")
	}
	return nil
}

// fetchToFile streams a request body to dest.
func fetchToFile(client *http.Client, req *http.Request, dest string) error {
	resp, err := client.Do(req)
	if err != nil {
		return rcerrors.Wrap(err, rcerrors.KindNetwork, "external", "download",
			fmt.Sprintf("%s %s", req.Method, req.URL.Host))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return rcerrors.New(rcerrors.KindNetwork, "external", "download",
			fmt.Sprintf("%s returned %d", req.URL.Host, resp.StatusCode)).
			WithDetail("status", resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return rcerrors.Wrap(err, rcerrors.KindFilesystem, "external", "download", "create output directory")
	}
	f, err := os.Create(dest)
	if err != nil {
		return rcerrors.Wrap(err, rcerrors.KindFilesystem, "external", "download", "create output file")
	}
	defer f.Close()

	if _, err := io.Copy(f, io.LimitReader(resp.Body, maxResponseSize)); err != nil {
		os.Remove(dest)
		return rcerrors.Wrap(err, rcerrors.KindNetwork, "external", "download", "stream response")
	}
	return nil
}
