// Package report turns rendered HTML documents into PDFs through Gotenberg.
package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable reports that Gotenberg could not be reached or refused the document.
var ErrUnavailable = errors.New("report: pdf renderer unavailable")

// Page sets the paper for a conversion. Zero values keep Gotenberg's defaults.
type Page struct {
	WidthInches  float64
	HeightInches float64
	MarginInches float64
}

// A5 suits single-fee receipts.
var A5 = Page{WidthInches: 5.83, HeightInches: 8.27, MarginInches: 0.4}

// Client wraps interactions with the Gotenberg API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient constructs a new client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Ping checks if the remote Gotenberg service is available.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: health returned status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// RenderHTML converts an HTML document into a PDF.
func (c *Client) RenderHTML(ctx context.Context, html []byte, page Page) ([]byte, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, bytes.NewReader(html)); err != nil {
		return nil, err
	}
	fields := map[string]float64{
		"paperWidth":   page.WidthInches,
		"paperHeight":  page.HeightInches,
		"marginTop":    page.MarginInches,
		"marginBottom": page.MarginInches,
		"marginLeft":   page.MarginInches,
		"marginRight":  page.MarginInches,
	}
	for name, value := range fields {
		if value <= 0 {
			continue
		}
		if err := writer.WriteField(name, fmt.Sprintf("%g", value)); err != nil {
			return nil, err
		}
	}
	if err := writer.WriteField("printBackground", "true"); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/forms/chromium/convert/html", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: render returned status %d", ErrUnavailable, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
