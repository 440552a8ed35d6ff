package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"siegebot/internal/emulator"
	"siegebot/pkg/logx"
)

// ScreenSource captures the current screen. Satisfied by emulator.Controller.
type ScreenSource interface {
	Screencap(ctx context.Context) ([]byte, error)
}

// httpClient talks JSON to a CV sidecar:
//
//	POST {base}/v1/find  {"template": "...", "area": {...}, "threshold": 0.9, "image": "<base64 png>"}
//	POST {base}/v1/ocr   {"area": {...}, "numeric": true, "image": "<base64 png>"}
//
// One request carries one screenshot; retry rounds re-capture so the sidecar
// always sees a fresh frame.
type httpClient struct {
	base    string
	hc      *http.Client
	screens ScreenSource
	log     logx.Logger
}

const defaultRequestTimeout = 15 * time.Second

func NewHTTP(baseURL string, timeout time.Duration, screens ScreenSource, log logx.Logger) Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &httpClient{
		base:    strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: timeout},
		screens: screens,
		log:     log,
	}
}

type findRequest struct {
	Template  string  `json:"template"`
	Area      *Rect   `json:"area,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
	Image     string  `json:"image"`
}

type ocrRequest struct {
	Area      *Rect  `json:"area,omitempty"`
	Numeric   bool   `json:"numeric,omitempty"`
	Whitelist string `json:"whitelist,omitempty"`
	Image     string `json:"image"`
}

type ocrResponse struct {
	Text string `json:"text"`
}

func (c *httpClient) FindTemplate(ctx context.Context, id string, area Rect, opts FindOpts) (Match, error) {
	attempts := opts.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var last Match
	for i := 0; i < attempts; i++ {
		if i > 0 && opts.Delay > 0 {
			t := time.NewTimer(opts.Delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return Match{}, ctx.Err()
			case <-t.C:
			}
		}

		img, err := c.screens.Screencap(ctx)
		if err != nil {
			return Match{}, fmt.Errorf("screencap: %w", err)
		}
		req := findRequest{Template: id, Threshold: opts.Threshold, Image: base64.StdEncoding.EncodeToString(img)}
		if !area.IsZero() {
			a := area
			req.Area = &a
		}

		var m Match
		if err := c.post(ctx, "/v1/find", req, &m); err != nil {
			return Match{}, err
		}
		if m.Found {
			return m, nil
		}
		last = m
	}
	return last, nil
}

func (c *httpClient) ReadText(ctx context.Context, area Rect, opts OCROpts) (string, error) {
	img, err := c.screens.Screencap(ctx)
	if err != nil {
		return "", fmt.Errorf("screencap: %w", err)
	}
	req := ocrRequest{Numeric: opts.Numeric, Whitelist: opts.Whitelist, Image: base64.StdEncoding.EncodeToString(img)}
	if !area.IsZero() {
		a := area
		req.Area = &a
	}

	var resp ocrResponse
	if err := c.post(ctx, "/v1/ocr", req, &resp); err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text), nil
}

func (c *httpClient) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("vision %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("vision %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ ScreenSource = emulator.Controller(nil)
