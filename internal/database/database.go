// internal/database/database.go
package database

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ant0nioSouza/callguard/internal/reputation"
	"github.com/Ant0nioSouza/callguard/pkg/models"
)

//go:embed sql/*.sql
var migrationFS embed.FS

var ErrNotFound = errors.New("call not found")

type Database struct {
	pool *pgxpool.Pool
}

// Config para configuração do banco
type Config struct {
	URL string
	// Pool settings
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
}

// New cria uma nova conexão com pool otimizado
func New(ctx context.Context, cfg Config) (*Database, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLife > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLife // Recicla conexões antigas
	}
	if cfg.MaxConnIdle > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdle // Fecha conexões idle
	}
	poolConfig.HealthCheckPeriod = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	// Testa a conexão
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{pool: pool}, nil
}

// Close fecha o pool de conexões
func (db *Database) Close() {
	db.pool.Close()
}

// Migrate aplica os arquivos sql/*.sql em ordem. Todos são idempotentes.
func (db *Database) Migrate(ctx context.Context) error {
	entries, err := migrationFS.ReadDir("sql")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := migrationFS.ReadFile("sql/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := db.pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("exec migration %s: %w", name, err)
		}
	}
	return nil
}

// SaveCall arquiva a chamada encerrada e a transcrição numa transação
func (db *Database) SaveCall(ctx context.Context, s models.CallSummary) error {
	summary, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var fraudScore *float64
	var isFraud *bool
	var confidence *string
	if v := s.Verdict; v != nil {
		fraudScore, isFraud = &v.Score, &v.IsFraud
		c := string(v.Confidence)
		confidence = &c
	}

	c := s.Call
	_, err = tx.Exec(ctx, `
        INSERT INTO calls (
            id, phone_number, started_at, connected_at, ended_at, duration_seconds,
            risk_level, final_risk_level, peak_score, fraud_score, is_fraud, confidence,
            analysis_error, suggest_block, patterns, degraded, summary
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
        ON CONFLICT (id) DO NOTHING
    `,
		c.ID, reputation.Normalize(c.PhoneNumber), c.StartedAt, nullTime(c.ConnectedAt), nullTime(c.EndedAt), c.DurationSeconds,
		string(c.RiskLevel), string(c.FinalRiskLevel), s.Risk.PeakScore, fraudScore, isFraud, confidence,
		nullString(s.AnalysisError), s.SuggestBlock, nonNil(s.Patterns), nonNil(c.Degraded), summary,
	)
	if err != nil {
		return fmt.Errorf("failed to insert call: %w", err)
	}

	// Batch da transcrição (muito mais rápido que um insert por segmento)
	batch := &pgx.Batch{}
	for i, seg := range s.Transcript {
		batch.Queue(`
            INSERT INTO transcripts (call_id, seq, speaker, text, confidence, spoken_at)
            VALUES ($1, $2, $3, $4, $5, $6)
            ON CONFLICT (call_id, seq) DO NOTHING
        `, c.ID, i, string(seg.Speaker), seg.Text, seg.Confidence, seg.Timestamp)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert transcript: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetCall busca o resumo arquivado de uma chamada
func (db *Database) GetCall(ctx context.Context, id uuid.UUID) (*models.CallSummary, error) {
	var raw []byte
	err := db.pool.QueryRow(ctx, `SELECT summary FROM calls WHERE id = $1`, id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call: %w", err)
	}

	var s models.CallSummary
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode call %s: %w", id, err)
	}
	return &s, nil
}

// ListCalls lista as chamadas mais recentes
func (db *Database) ListCalls(ctx context.Context, limit, offset int) ([]models.CallRecord, error) {
	rows, err := db.pool.Query(ctx, `
        SELECT id, phone_number, started_at, connected_at, ended_at, duration_seconds,
               risk_level, final_risk_level, degraded
        FROM calls
        ORDER BY started_at DESC
        LIMIT $1 OFFSET $2
    `, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query calls: %w", err)
	}
	defer rows.Close()

	var calls []models.CallRecord
	for rows.Next() {
		var c models.CallRecord
		var connected, ended *time.Time
		var level, final string
		if err := rows.Scan(&c.ID, &c.PhoneNumber, &c.StartedAt, &connected, &ended, &c.DurationSeconds,
			&level, &final, &c.Degraded); err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		if connected != nil {
			c.ConnectedAt = *connected
		}
		if ended != nil {
			c.EndedAt = *ended
		}
		c.State = models.CallEnded
		c.RiskLevel = models.RiskLevel(level)
		c.FinalRiskLevel = models.RiskLevel(final)
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// TranscriptHit é um resultado da busca textual
type TranscriptHit struct {
	CallID    uuid.UUID                `json:"call_id"`
	Segment   models.TranscriptSegment `json:"segment"`
	RiskLevel models.RiskLevel         `json:"risk_level"`
	Rank      float64                  `json:"rank"`
}

// SearchTranscripts busca por texto (full-text search)
func (db *Database) SearchTranscripts(ctx context.Context, term string, limit int) ([]TranscriptHit, error) {
	rows, err := db.pool.Query(ctx, `
        SELECT t.call_id, t.speaker, t.text, t.confidence, t.spoken_at, c.final_risk_level,
               ts_rank(to_tsvector('simple', t.text), plainto_tsquery('simple', $1)) AS rank
        FROM transcripts t
        JOIN calls c ON c.id = t.call_id
        WHERE to_tsvector('simple', t.text) @@ plainto_tsquery('simple', $1)
        ORDER BY rank DESC, t.spoken_at DESC
        LIMIT $2
    `, term, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search transcripts: %w", err)
	}
	defer rows.Close()

	var hits []TranscriptHit
	for rows.Next() {
		var h TranscriptHit
		var speaker, level string
		if err := rows.Scan(&h.CallID, &speaker, &h.Segment.Text, &h.Segment.Confidence, &h.Segment.Timestamp, &level, &h.Rank); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		h.Segment.Speaker = models.Speaker(speaker)
		h.RiskLevel = models.RiskLevel(level)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// Lookup implementa reputation.Store sobre a tabela caller_reputation
func (db *Database) Lookup(ctx context.Context, phoneNumber string) (*models.Reputation, error) {
	r := &models.Reputation{}
	var level string
	var scamType *string
	err := db.pool.QueryRow(ctx, `
        SELECT phone_number, type, risk_level, risk_score, scam_type, reports
        FROM caller_reputation
        WHERE phone_number = $1
    `, reputation.Normalize(phoneNumber)).Scan(&r.PhoneNumber, &r.Type, &level, &r.RiskScore, &scamType, &r.Reports)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lookup reputation: %w", err)
	}
	r.RiskLevel = models.RiskLevel(level)
	if scamType != nil {
		r.ScamType = *scamType
	}
	return r, nil
}

// SaveReputation faz upsert de um registro de reputação
func (db *Database) SaveReputation(ctx context.Context, r models.Reputation) error {
	_, err := db.pool.Exec(ctx, `
        INSERT INTO caller_reputation (phone_number, type, risk_level, risk_score, scam_type, reports)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (phone_number) DO UPDATE SET
            type = EXCLUDED.type,
            risk_level = EXCLUDED.risk_level,
            risk_score = EXCLUDED.risk_score,
            scam_type = EXCLUDED.scam_type,
            reports = EXCLUDED.reports,
            updated_at = NOW()
    `, reputation.Normalize(r.PhoneNumber), r.Type, string(r.RiskLevel), r.RiskScore, nullString(r.ScamType), r.Reports)
	if err != nil {
		return fmt.Errorf("failed to save reputation: %w", err)
	}
	return nil
}

// GetPoolStats retorna estatísticas do pool de conexões
func (db *Database) GetPoolStats() map[string]int32 {
	stat := db.pool.Stat()
	return map[string]int32{
		"total_conns":    stat.TotalConns(),
		"acquired_conns": stat.AcquiredConns(),
		"idle_conns":     stat.IdleConns(),
		"max_conns":      stat.MaxConns(),
	}
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
