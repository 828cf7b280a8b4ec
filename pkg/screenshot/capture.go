// Package screenshot attaches page screenshots to detection records via an
// external render service. Capture is advisory: a failed or disabled capture
// never blocks a verdict.
package screenshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lureguard/lureguard/pkg/httputil"
)

// skipPatterns marks urls that should never be rendered: local targets and
// non-web schemes.
var skipPatterns = []string{
	"localhost", "127.0.0.1", "192.168.", "10.0.", "file://", "ftp://", "data:",
}

// Capturer calls an external headless-browser service that renders a url and
// returns a resized PNG.
type Capturer struct {
	serviceURL string
	client     *http.Client
}

// NewCapturer builds a capturer for the given render service. An empty url
// disables capture entirely.
func NewCapturer(serviceURL string) *Capturer {
	return &Capturer{
		serviceURL: strings.TrimSuffix(serviceURL, "/"),
		client:     httputil.NewClient(15*time.Second, nil),
	}
}

// Enabled reports whether a render service is configured.
func (c *Capturer) Enabled() bool {
	return c != nil && c.serviceURL != ""
}

// NeedsCapture filters out urls that are not worth rendering.
func NeedsCapture(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	for _, p := range skipPatterns {
		if strings.Contains(lower, p) {
			return false
		}
	}
	return true
}

type captureRequest struct {
	URL string `json:"url"`
}

type captureResponse struct {
	ScreenshotBase64 string `json:"screenshot_base64"`
	Error            string `json:"error,omitempty"`
}

// Capture renders rawURL and returns the screenshot as base64 PNG. Returns
// an empty string without error when capture is disabled or the url is
// filtered out.
func (c *Capturer) Capture(ctx context.Context, rawURL string) (string, error) {
	if !c.Enabled() || !NeedsCapture(rawURL) {
		return "", nil
	}

	body, err := json.Marshal(captureRequest{URL: rawURL})
	if err != nil {
		return "", fmt.Errorf("encode capture request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.serviceURL+"/screenshot", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build capture request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("render service: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		msg, _ := httputil.ReadErrorBody(resp.Body)
		return "", fmt.Errorf("render service returned %d: %s", resp.StatusCode, msg)
	}

	var out captureResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode capture response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("render service: %s", out.Error)
	}
	return out.ScreenshotBase64, nil
}
