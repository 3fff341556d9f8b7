// Package analysis talks to the external fraud-analysis service.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Ant0nioSouza/callguard/internal/converter"
	"github.com/Ant0nioSouza/callguard/pkg/models"
)

// ErrUnreachable wraps every transport, status or decode failure. Callers
// treat it as "keep the live score".
var ErrUnreachable = errors.New("analysis service unreachable")

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Analyze uploads a finalized recording to /analyze/advanced/.
func (c *Client) Analyze(ctx context.Context, audio []byte, format models.AudioFormat, transcript string) (models.Verdict, error) {
	if len(audio) == 0 {
		return models.Verdict{}, fmt.Errorf("analyze: empty recording")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreatePart(fileHeader("recording."+converter.FileExtension(format), converter.ContentType(format)))
	if err != nil {
		return models.Verdict{}, err
	}
	if _, err := part.Write(audio); err != nil {
		return models.Verdict{}, err
	}
	if err := mw.Close(); err != nil {
		return models.Verdict{}, err
	}

	endpoint := c.baseURL() + "/analyze/advanced/"
	if transcript != "" {
		endpoint += "?" + url.Values{"transcript": {transcript}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return models.Verdict{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return c.do(req)
}

// AnalyzeText scores a transcript snippet through /analyze/text/.
func (c *Client) AnalyzeText(ctx context.Context, text string) (models.Verdict, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Verdict{Confidence: models.ConfidenceLow}, nil
	}

	endpoint := c.baseURL() + "/analyze/text/?" + url.Values{"text": {text}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return models.Verdict{}, err
	}
	return c.do(req)
}

// Ping checks that the service answers on its root endpoint.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL()+"/", nil)
	if err != nil {
		return err
	}
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: 30 * time.Second}
	}
	res, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
	if res.StatusCode/100 != 2 {
		return fmt.Errorf("%w: status %d", ErrUnreachable, res.StatusCode)
	}
	return nil
}

func (c *Client) baseURL() string {
	if c.BaseURL == "" {
		return "http://localhost:8003"
	}
	return c.BaseURL
}

func (c *Client) do(req *http.Request) (models.Verdict, error) {
	if c.HTTP == nil {
		c.HTTP = &http.Client{Timeout: 30 * time.Second}
	}

	res, err := c.HTTP.Do(req)
	if err != nil {
		return models.Verdict{}, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return models.Verdict{}, fmt.Errorf("%w: status %d: %s", ErrUnreachable, res.StatusCode, strings.TrimSpace(string(msg)))
	}

	var resp response
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return models.Verdict{}, fmt.Errorf("%w: decode: %v", ErrUnreachable, err)
	}
	if resp.Error != "" {
		return models.Verdict{}, fmt.Errorf("%w: %s", ErrUnreachable, resp.Error)
	}
	return resp.verdict()
}

func fileHeader(filename, contentType string) map[string][]string {
	return map[string][]string{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename="%s"`, filename)},
		"Content-Type":        {contentType},
	}
}
