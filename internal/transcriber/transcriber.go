// Package transcriber turns captured call audio into transcript segments
// through an external speech-to-text server.
package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/Ant0nioSouza/callguard/internal/converter"
	"github.com/Ant0nioSouza/callguard/pkg/models"
)

var ErrUnavailable = errors.New("transcriber unavailable")

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, format models.AudioFormat) (*TranscriptionResult, error)
}

type TranscriptionResult struct {
	Language   string
	Text       string
	Confidence float64
	Duration   float64
	Segments   []Segment
}

// Representa um segmento de transcrição
type Segment struct {
	StartTime  time.Duration
	EndTime    time.Duration
	Text       string
	Confidence float64
}

// HTTPTranscriber fala com um servidor compatível com o /inference do
// whisper.cpp (multipart "file", resposta verbose_json).
type HTTPTranscriber struct {
	BaseURL  string
	Language string
	HTTP     *http.Client
}

func NewHTTPTranscriber(baseURL, language string, timeout time.Duration) *HTTPTranscriber {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if language == "" {
		language = "en"
	}
	return &HTTPTranscriber{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		Language: language,
		HTTP:     &http.Client{Timeout: timeout},
	}
}

type inferenceResponse struct {
	Error    string  `json:"error"`
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
	Segments []struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		AvgLogprob float64 `json:"avg_logprob"`
		NoSpeech   float64 `json:"no_speech_prob"`
	} `json:"segments"`
}

func (t *HTTPTranscriber) Transcribe(ctx context.Context, audio []byte, format models.AudioFormat) (*TranscriptionResult, error) {
	if len(audio) == 0 {
		return &TranscriptionResult{Language: t.Language}, nil
	}
	startTime := time.Now()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreatePart(map[string][]string{
		"Content-Disposition": {`form-data; name="file"; filename="chunk.` + converter.FileExtension(format) + `"`},
		"Content-Type":        {converter.ContentType(format)},
	})
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(audio); err != nil {
		return nil, err
	}
	mw.WriteField("response_format", "verbose_json")
	mw.WriteField("language", t.Language)
	mw.WriteField("temperature", "0")
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/inference", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	if t.HTTP == nil {
		t.HTTP = &http.Client{Timeout: 15 * time.Second}
	}
	res, err := t.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, res.StatusCode, strings.TrimSpace(string(msg)))
	}

	var resp inferenceResponse
	if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUnavailable, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, resp.Error)
	}

	segments := make([]Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, Segment{
			StartTime:  time.Duration(s.Start * float64(time.Second)),
			EndTime:    time.Duration(s.End * float64(time.Second)),
			Text:       strings.TrimSpace(s.Text),
			Confidence: segmentConfidence(s.AvgLogprob, s.NoSpeech),
		})
	}

	language := resp.Language
	if language == "" {
		language = t.Language
	}
	result := &TranscriptionResult{
		Language:   language,
		Text:       strings.TrimSpace(resp.Text),
		Confidence: estimateConfidence(segments),
		Duration:   resp.Duration,
		Segments:   segments,
	}

	log.Printf("🎤 Transcription completed in %.2fs (%d segments)", time.Since(startTime).Seconds(), len(segments))
	return result, nil
}

// Ping verifica se o servidor de transcrição responde
func (t *HTTPTranscriber) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.BaseURL+"/", nil)
	if err != nil {
		return err
	}
	if t.HTTP == nil {
		t.HTTP = &http.Client{Timeout: 15 * time.Second}
	}
	res, err := t.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	res.Body.Close()
	if res.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, res.StatusCode)
	}
	return nil
}

// segmentConfidence converte avg_logprob em [0,1], descontando a
// probabilidade de não haver fala.
func segmentConfidence(avgLogprob, noSpeech float64) float64 {
	if avgLogprob == 0 && noSpeech == 0 {
		return 0.92 // servidor não informou
	}
	c := 1 + avgLogprob
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c * (1 - noSpeech)
}

// estimateConfidence estima a confiança média baseado nos segmentos
func estimateConfidence(segments []Segment) float64 {
	if len(segments) == 0 {
		return 0.0
	}
	var sum float64
	for _, s := range segments {
		sum += s.Confidence
	}
	return sum / float64(len(segments))
}
