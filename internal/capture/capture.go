// Package capture implements pipeline.Capture collaborators. Video
// decoding stays upstream: the HTTPPoller only pulls already-encoded
// JPEG frames from a frame server (e.g. go2rtc's /api/frame.jpeg) at a
// fixed rate.
package capture

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	"github.com/roadlens/roadlens/internal/pipeline"
)

// HTTPPoller implements pipeline.Capture by polling a still-frame HTTP
// endpoint (e.g. go2rtc's /api/frame.jpeg) at a fixed interval.
type HTTPPoller struct {
	url        string
	interval   time.Duration
	httpClient *http.Client
	last       time.Time
}

// NewHTTPPoller builds a poller against url, pulling frames at fps
// (defaulting to 5 when fps <= 0).
func NewHTTPPoller(url string, fps int) *HTTPPoller {
	if fps <= 0 {
		fps = 5
	}
	return &HTTPPoller{
		url:        url,
		interval:   time.Second / time.Duration(fps),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Next blocks until the next poll interval elapses, then fetches and
// decodes one frame. It satisfies pipeline.Capture.
func (p *HTTPPoller) Next(ctx context.Context) (pipeline.Frame, time.Time, error) {
	if !p.last.IsZero() {
		if wait := p.interval - time.Since(p.last); wait > 0 {
			select {
			case <-ctx.Done():
				return pipeline.Frame{}, time.Time{}, ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return pipeline.Frame{}, time.Time{}, fmt.Errorf("capture: build request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return pipeline.Frame{}, time.Time{}, fmt.Errorf("capture: fetch frame: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return pipeline.Frame{}, time.Time{}, fmt.Errorf("capture: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return pipeline.Frame{}, time.Time{}, fmt.Errorf("capture: read frame body: %w", err)
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return pipeline.Frame{}, time.Time{}, fmt.Errorf("capture: decode frame: %w", err)
	}

	now := time.Now()
	p.last = now
	return pipeline.Frame{Data: data, Cols: cfg.Width, Rows: cfg.Height}, now, nil
}
