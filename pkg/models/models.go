package models

import (
	"time"

	"github.com/google/uuid"
)

// CallState é o estado do ciclo de vida de uma chamada
type CallState string

const (
	CallIdle      CallState = "idle"
	CallRinging   CallState = "ringing"
	CallConnected CallState = "connected"
	CallEnded     CallState = "ended"
)

// CallRecord representa uma chamada monitorada (uma por chamada ativa)
type CallRecord struct {
	ID              uuid.UUID `json:"id"`
	PhoneNumber     string    `json:"phone_number"`
	StartedAt       time.Time `json:"started_at"`
	ConnectedAt     time.Time `json:"connected_at,omitempty"`
	EndedAt         time.Time `json:"ended_at,omitempty"`
	State           CallState `json:"state"`
	DurationSeconds int       `json:"duration_seconds"`
	Recording       bool      `json:"recording"`
	Analyzing       bool      `json:"analyzing"`
	RiskLevel       RiskLevel `json:"risk_level"`
	FinalRiskLevel  RiskLevel `json:"final_risk_level,omitempty"`
	Degraded        []string  `json:"degraded,omitempty"`
}

// AudioFormat descreve a codificação escolhida pelo dispositivo de captura
type AudioFormat struct {
	Encoding   string `json:"encoding"` // "pcm_s16le", "webm/opus", "mp4"
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// PCM16kMono is the format the simulated and file devices produce.
var PCM16kMono = AudioFormat{Encoding: "pcm_s16le", SampleRate: 16000, Channels: 1}

// AudioChunk é um pedaço de áudio emitido em intervalo fixo.
// Imutável depois de emitido.
type AudioChunk struct {
	SequenceNumber int         `json:"sequence_number"`
	Payload        []byte      `json:"-"`
	Format         AudioFormat `json:"format"`
	CapturedAt     time.Time   `json:"captured_at"`
	IsFinal        bool        `json:"is_final"`
}

type Speaker string

const (
	SpeakerSelf   Speaker = "self"
	SpeakerRemote Speaker = "remote"
)

// TranscriptSegment é um trecho de fala convertido em texto
type TranscriptSegment struct {
	Text       string    `json:"text"`
	Speaker    Speaker   `json:"speaker"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

type SampleSource string

const (
	SourceKeyword SampleSource = "keyword"
	SourceModel   SampleSource = "model"
)

// RiskSample is one score observation; Score is always within [0,1].
type RiskSample struct {
	T      time.Time    `json:"t"`
	Score  float64      `json:"score"`
	Source SampleSource `json:"source"`
}

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders levels so they can be compared; unknown levels rank as low.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 0
	}
}

// MaxLevel returns the more severe of a and b.
func MaxLevel(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	if a == "" {
		return RiskLow
	}
	return a
}

// RollingRiskState é o estado agregado de risco da chamada
type RollingRiskState struct {
	RealTimeScore float64   `json:"real_time_score"`
	PeakScore     float64   `json:"peak_score"`
	Level         RiskLevel `json:"level"`
	Samples       int       `json:"samples"`
}

// EmergencyContact vem da configuração do usuário (somente leitura)
type EmergencyContact struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	PhoneNumber  string `json:"phone_number" yaml:"phone_number"`
	Relationship string `json:"relationship,omitempty" yaml:"relationship,omitempty"`
	IsPrimary    bool   `json:"is_primary" yaml:"is_primary"`
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Address   string  `json:"address,omitempty"`
}

// Reputation é o resultado da consulta de reputação do número
type Reputation struct {
	PhoneNumber string    `json:"phone_number"`
	Type        string    `json:"type"` // individual, business, scam, telemarketer, unknown
	RiskLevel   RiskLevel `json:"risk_level"`
	RiskScore   float64   `json:"risk_score"`
	ScamType    string    `json:"scam_type,omitempty"`
	Reports     int       `json:"reports,omitempty"`
}

// KnownScam reports whether the number short-circuits a session to critical.
func (r Reputation) KnownScam() bool {
	return r.Type == "scam" || r.RiskLevel == RiskCritical
}

type ConfidenceBand string

const (
	ConfidenceLow    ConfidenceBand = "low"
	ConfidenceMedium ConfidenceBand = "medium"
	ConfidenceHigh   ConfidenceBand = "high"
)

// BandFor maps a raw confidence value onto a band.
func BandFor(confidence float64) ConfidenceBand {
	switch {
	case confidence >= 0.8:
		return ConfidenceHigh
	case confidence >= 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Verdict é a resposta do colaborador de análise
type Verdict struct {
	Score           float64        `json:"fraud_score"`
	IsFraud         bool           `json:"is_fraud"`
	Confidence      ConfidenceBand `json:"confidence"`
	Explanations    []string       `json:"explanations,omitempty"`
	Recommendations []string       `json:"recommendations,omitempty"`
}

// OTPProtection conta tentativas de OTP bloqueadas durante a vida do processo
type OTPProtection struct {
	Enabled         bool      `json:"enabled"`
	AlertLevel      string    `json:"alert_level"`
	BlockedAttempts int       `json:"blocked_attempts"`
	LastBlocked     time.Time `json:"last_blocked,omitempty"`
}

// CallSummary é o registro final de uma chamada encerrada, arquivado
// depois que a análise pós-chamada termina (ou é pulada).
type CallSummary struct {
	Call           CallRecord          `json:"call"`
	Risk           RollingRiskState    `json:"risk"`
	Verdict        *Verdict            `json:"verdict,omitempty"`
	AnalysisError  string              `json:"analysis_error,omitempty"`
	Patterns       []string            `json:"patterns,omitempty"`
	Recommendation string              `json:"recommendation"`
	SuggestBlock   bool                `json:"suggest_block"`
	Reputation     *Reputation         `json:"reputation,omitempty"`
	Transcript     []TranscriptSegment `json:"transcript,omitempty"`
	EvidencePath   string              `json:"evidence_path,omitempty"`
}
