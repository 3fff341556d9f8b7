// Package config loads the engine settings from the environment and an
// optional .env file.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	AnalysisURL       string
	AnalysisTimeout   time.Duration
	StreamingAnalysis bool
	TranscriberURL    string
	TranscriberLang   string
	HealthInterval    time.Duration

	AudioDevice       string // simulated | file:<path> | none
	ChunkInterval     time.Duration
	SampleInterval    time.Duration
	DurationTick      time.Duration
	FinalChunkTimeout time.Duration
	DecayWeight       float64
	RingTimeout       time.Duration

	AlertTTL    time.Duration
	DedupWindow time.Duration

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBConnLife  time.Duration
	DBConnIdle  time.Duration

	RedisAddr          string
	RedisPassword      string
	ReputationCacheTTL time.Duration

	KafkaBrokers            []string
	KafkaTopicAlerts        string
	KafkaTopicNotifications string

	ContactsFile  string
	SupabaseURL   string
	SupabaseKey   string
	ContactsTable string

	EvidenceDir   string
	OTPProtection bool
	OTPAlertLevel string
	NotifyTimeout time.Duration
}

// LoadDotenv reads .env files into the environment. Variables already set
// win. It reports whether any file was loaded.
func LoadDotenv(files ...string) bool {
	return godotenv.Load(files...) == nil
}

// Load reads the environment. Invalid values fall back to defaults.
func Load() Config {
	return Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr: getEnv("GRPC_ADDR", ":50051"),

		AnalysisURL:       getEnv("ANALYSIS_URL", "http://localhost:8003"),
		AnalysisTimeout:   getEnvDuration("ANALYSIS_TIMEOUT", 30*time.Second),
		StreamingAnalysis: getEnvBool("STREAMING_ANALYSIS", false),
		TranscriberURL:    getEnv("TRANSCRIBER_URL", ""),
		TranscriberLang:   getEnv("TRANSCRIBER_LANGUAGE", "en"),
		HealthInterval:    getEnvDuration("HEALTH_INTERVAL", 15*time.Second),

		AudioDevice:       getEnv("AUDIO_DEVICE", "simulated"),
		ChunkInterval:     getEnvDuration("CHUNK_INTERVAL", time.Second),
		SampleInterval:    getEnvDuration("SAMPLE_INTERVAL", 3*time.Second),
		DurationTick:      getEnvDuration("DURATION_TICK", time.Second),
		FinalChunkTimeout: getEnvDuration("FINAL_CHUNK_TIMEOUT", 5*time.Second),
		DecayWeight:       getEnvFloat("DECAY_WEIGHT", 0.7),
		RingTimeout:       getEnvDuration("RING_TIMEOUT", 2*time.Minute),

		AlertTTL:    getEnvDuration("ALERT_TTL", 30*time.Second),
		DedupWindow: getEnvDuration("DEDUP_WINDOW", 30*time.Second),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		DBMaxConns:  int32(getEnvInt("DB_MAX_CONNS", 20)),
		DBMinConns:  int32(getEnvInt("DB_MIN_CONNS", 2)),
		DBConnLife:  getEnvDuration("DB_MAX_CONN_LIFE", time.Hour),
		DBConnIdle:  getEnvDuration("DB_MAX_CONN_IDLE", 10*time.Minute),

		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		ReputationCacheTTL: getEnvDuration("REPUTATION_CACHE_TTL", 10*time.Minute),

		KafkaBrokers:            splitCSV(getEnv("KAFKA_BROKERS", "")),
		KafkaTopicAlerts:        getEnv("KAFKA_TOPIC_ALERTS", "callguard.alerts"),
		KafkaTopicNotifications: getEnv("KAFKA_TOPIC_NOTIFICATIONS", "callguard.notifications"),

		ContactsFile:  getEnv("CONTACTS_FILE", "contacts.yaml"),
		SupabaseURL:   getEnv("SUPABASE_URL", ""),
		SupabaseKey:   getEnv("SUPABASE_KEY", ""),
		ContactsTable: getEnv("SUPABASE_CONTACTS_TABLE", "emergency_contacts"),

		EvidenceDir:   getEnv("EVIDENCE_DIR", ".callguard"),
		OTPProtection: getEnvBool("OTP_PROTECTION", true),
		OTPAlertLevel: getEnv("OTP_ALERT_LEVEL", "high"),
		NotifyTimeout: getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second),
	}
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}

// getEnvDuration aceita "1m30s" ou um número de segundos
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
		return time.Duration(secs * float64(time.Second))
	}
	return fallback
}
