// Package api exposes the engine over HTTP: call control, alerts, OTP
// protection state and a WebSocket alert stream.
package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Ant0nioSouza/callguard/internal/alert"
	"github.com/Ant0nioSouza/callguard/internal/monitor"
	"github.com/Ant0nioSouza/callguard/internal/risk"
	"github.com/Ant0nioSouza/callguard/internal/session"
	"github.com/Ant0nioSouza/callguard/pkg/models"
	"github.com/Ant0nioSouza/callguard/pkg/utils"
)

// Alerts is the part of the alert bus the API reads and resolves.
type Alerts interface {
	Active(session uuid.UUID) []models.Alert
	Resolve(id uuid.UUID) bool
	Subscribe(h alert.Handler) func()
	DeliveryFailures() int64
}

// Protection exposes the OTP protection counter.
type Protection interface {
	OTPProtection() models.OTPProtection
	SetOTPProtection(enabled bool) models.OTPProtection
}

type Server struct {
	monitor    *monitor.Monitor
	alerts     Alerts
	protection Protection
	started    time.Time
}

func NewServer(m *monitor.Monitor, alerts Alerts, protection Protection) *Server {
	return &Server{monitor: m, alerts: alerts, protection: protection, started: time.Now()}
}

// Routes builds the router. The stream endpoint sits outside the request
// timeout.
func (s *Server) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", s.health)
	router.Get("/v1/alerts/stream", s.stream)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(45 * time.Second))

		r.Post("/v1/calls", s.startCall)
		r.Get("/v1/calls", s.listCalls)
		r.Get("/v1/calls/{id}", s.getCall)
		r.Post("/v1/calls/{id}/connect", s.connectCall)
		r.Post("/v1/calls/{id}/transcript", s.addTranscript)
		r.Post("/v1/calls/{id}/end", s.endCall)

		r.Get("/v1/alerts", s.listAlerts)
		r.Post("/v1/alerts/{id}/resolve", s.resolveAlert)

		r.Get("/v1/protection/otp", s.getOTP)
		r.Put("/v1/protection/otp", s.setOTP)

		r.Post("/v1/score", s.score)
	})
	return router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	var degraded []string
	for _, c := range s.monitor.Active() {
		degraded = append(degraded, c.Degraded...)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":                true,
		"service":           "callguard",
		"uptime_seconds":    int(time.Since(s.started).Seconds()),
		"active_calls":      len(s.monitor.Active()),
		"degraded":          len(degraded) > 0,
		"degraded_reasons":  unique(degraded),
		"delivery_failures": s.alerts.DeliveryFailures(),
	})
}

func (s *Server) startCall(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PhoneNumber string `json:"phone_number"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(body.PhoneNumber) == "" {
		writeError(w, http.StatusBadRequest, errors.New("phone_number is required"))
		return
	}

	sess, err := s.monitor.StartCall(r.Context(), body.PhoneNumber)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) listCalls(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), 50)
	recent, err := s.monitor.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": s.monitor.Active(), "recent": recent})
}

func (s *Server) getCall(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if sess, live := s.monitor.Get(id); live {
		writeJSON(w, http.StatusOK, map[string]any{
			"call":       sess.Snapshot(),
			"risk":       sess.Risk(),
			"transcript": sess.Transcript(),
			"alerts":     s.alerts.Active(id),
		})
		return
	}
	if sum, found := s.monitor.Summary(r.Context(), id); found {
		writeJSON(w, http.StatusOK, sum)
		return
	}
	writeError(w, http.StatusNotFound, monitor.ErrCallNotFound)
}

func (s *Server) connectCall(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.monitor.Connect(r.Context(), id); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	sess, _ := s.monitor.Get(id)
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) addTranscript(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var seg models.TranscriptSegment
	if err := readJSON(r, &seg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	switch seg.Speaker {
	case "", models.SpeakerRemote, models.SpeakerSelf:
	default:
		writeError(w, http.StatusBadRequest, errors.New("speaker must be self or remote"))
		return
	}
	if err := s.monitor.AddTranscript(id, seg); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (s *Server) endCall(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sum, err := s.monitor.EndCall(r.Context(), id)
	if errors.Is(err, session.ErrDuplicateAnalysis) {
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "summary": sum})
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) listAlerts(w http.ResponseWriter, r *http.Request) {
	var sessionID uuid.UUID
	if raw := r.URL.Query().Get("session"); raw != "" {
		id, ok := utils.ParseID(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, errors.New("invalid session id"))
			return
		}
		sessionID = id
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": s.alerts.Active(sessionID)})
}

func (s *Server) resolveAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	changed := s.alerts.Resolve(id)
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "resolved": true, "changed": changed})
}

func (s *Server) getOTP(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.protection.OTPProtection())
}

func (s *Server) setOTP(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if body.Enabled == nil {
		writeError(w, http.StatusBadRequest, errors.New("enabled is required"))
		return
	}
	writeJSON(w, http.StatusOK, s.protection.SetOTPProtection(*body.Enabled))
}

func (s *Server) score(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Text string `json:"text"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	exp := risk.Explain(body.Text)
	level := risk.Classify(exp.Score)
	writeJSON(w, http.StatusOK, map[string]any{
		"score":          exp.Score,
		"level":          level,
		"keywords":       exp.Keywords,
		"urgency":        exp.Urgency,
		"threat":         exp.Threat,
		"patterns":       risk.Patterns(body.Text),
		"recommendation": risk.Recommendation(level),
	})
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := utils.ParseID(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusBadRequest, errors.New("invalid id"))
	}
	return id, ok
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, monitor.ErrCallNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrNotConnected),
		errors.Is(err, session.ErrDuplicateAnalysis),
		errors.Is(err, session.ErrSessionClosed):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func unique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
