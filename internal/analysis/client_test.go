package analysis

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Ant0nioSouza/callguard/pkg/models"
)

func TestAnalyzeFlatResponse(t *testing.T) {
	var gotType, gotFile string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze/advanced/" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		gotBody, _ = io.ReadAll(file)
		gotType = header.Header.Get("Content-Type")
		gotFile = header.Filename
		w.Write([]byte(`{"fraud_score":0.42,"is_fraud":true,"confidence":"high","explanation":"asked for gift cards"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	v, err := c.Analyze(context.Background(), []byte("RIFFdata"), models.PCM16kMono, "")
	if err != nil {
		t.Fatal(err)
	}
	if string(gotBody) != "RIFFdata" {
		t.Errorf("uploaded %q", gotBody)
	}
	if gotType != "audio/wav" || !strings.HasSuffix(gotFile, ".wav") {
		t.Errorf("content type %q filename %q", gotType, gotFile)
	}
	if !v.IsFraud || v.Score != 0.42 || v.Confidence != models.ConfidenceHigh {
		t.Errorf("verdict = %+v", v)
	}
	if len(v.Explanations) != 1 || v.Explanations[0] != "asked for gift cards" {
		t.Errorf("explanations = %v", v.Explanations)
	}
}

func TestAnalyzeNestedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("transcript") != "pay now" {
			t.Errorf("transcript query = %q", r.URL.Query().Get("transcript"))
		}
		w.Write([]byte(`{"job_id":"x","result":{"overall_fraud_score":0.85,"risk_level":"critical",
			"explanations":["authority impersonation"],"recommendations":["hang up"]}}`))
	}))
	defer srv.Close()

	v, err := NewClient(srv.URL+"/", time.Second).Analyze(context.Background(), []byte{1, 2}, models.AudioFormat{Encoding: "webm/opus"}, "pay now")
	if err != nil {
		t.Fatal(err)
	}
	if !v.IsFraud || v.Score != 0.85 {
		t.Errorf("verdict = %+v", v)
	}
	if v.Confidence != models.ConfidenceMedium {
		t.Errorf("derived confidence = %s, want medium", v.Confidence)
	}
	if len(v.Recommendations) != 1 {
		t.Errorf("recommendations = %v", v.Recommendations)
	}
}

func TestAnalyzeUnreachable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"status", func(w http.ResponseWriter, r *http.Request) { http.Error(w, "boom", http.StatusBadGateway) }},
		{"garbage", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte("<html>")) }},
		{"error field", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"error":"model not loaded","fraud_score":0.0,"risk_level":"low"}`))
		}},
		{"no score", func(w http.ResponseWriter, r *http.Request) { w.Write([]byte(`{"ok":true}`)) }},
		{"slow", func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
			w.Write([]byte(`{"fraud_score":0.1}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewClient(srv.URL, 100*time.Millisecond).Analyze(context.Background(), []byte{1}, models.PCM16kMono, "")
			if !errors.Is(err, ErrUnreachable) {
				t.Errorf("err = %v, want ErrUnreachable", err)
			}
		})
	}

	// nada escutando
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	if _, err := NewClient(url, time.Second).AnalyzeText(context.Background(), "hello"); !errors.Is(err, ErrUnreachable) {
		t.Errorf("closed server err = %v", err)
	}
}

func TestAnalyzeRejectsEmptyRecording(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second)
	if _, err := c.Analyze(context.Background(), nil, models.PCM16kMono, ""); err == nil {
		t.Fatal("empty recording accepted")
	}
}

func TestAnalyzeText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze/text/" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("text") != "this is the irs" {
			t.Errorf("text = %q", r.URL.Query().Get("text"))
		}
		w.Write([]byte(`{"analysis_type":"text_only","result":{"fraud_score":0.65,"risk_level":"high","explanations":["authority"]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	v, err := c.AnalyzeText(context.Background(), "  this is the irs ")
	if err != nil {
		t.Fatal(err)
	}
	if v.Score != 0.65 || v.IsFraud {
		t.Errorf("verdict = %+v", v)
	}

	v, err = c.AnalyzeText(context.Background(), "   ")
	if err != nil || v.Score != 0 {
		t.Errorf("blank text = %+v, %v", v, err)
	}
}

func TestParseConfidence(t *testing.T) {
	tests := []struct {
		raw   string
		score float64
		want  models.ConfidenceBand
	}{
		{`"low"`, 0.9, models.ConfidenceLow},
		{`0.85`, 0.5, models.ConfidenceHigh},
		{`0.6`, 0.5, models.ConfidenceMedium},
		{``, 0.95, models.ConfidenceHigh},
		{``, 0.5, models.ConfidenceLow},
		{`"bogus"`, 0.1, models.ConfidenceHigh},
	}
	for _, tt := range tests {
		if got := parseConfidence([]byte(tt.raw), tt.score); got != tt.want {
			t.Errorf("parseConfidence(%s, %v) = %s, want %s", tt.raw, tt.score, got, tt.want)
		}
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"message":"ok"}`))
	}))
	c := NewClient(srv.URL, time.Second)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}

	srv.Close()
	if err := c.Ping(context.Background()); !errors.Is(err, ErrUnreachable) {
		t.Errorf("Ping after close = %v", err)
	}
}
