// Package app wires the engine from a Config: stores, collaborators, the
// alert bus and its subscribers, the call monitor and the servers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/Ant0nioSouza/callguard/internal/alert"
	"github.com/Ant0nioSouza/callguard/internal/analysis"
	"github.com/Ant0nioSouza/callguard/internal/api"
	"github.com/Ant0nioSouza/callguard/internal/audio"
	"github.com/Ant0nioSouza/callguard/internal/config"
	"github.com/Ant0nioSouza/callguard/internal/contacts"
	"github.com/Ant0nioSouza/callguard/internal/database"
	"github.com/Ant0nioSouza/callguard/internal/emergency"
	"github.com/Ant0nioSouza/callguard/internal/evidence"
	grpcserver "github.com/Ant0nioSouza/callguard/internal/grpc"
	"github.com/Ant0nioSouza/callguard/internal/monitor"
	"github.com/Ant0nioSouza/callguard/internal/mq"
	"github.com/Ant0nioSouza/callguard/internal/reputation"
	"github.com/Ant0nioSouza/callguard/internal/session"
	"github.com/Ant0nioSouza/callguard/internal/transcriber"
)

type Engine struct {
	Config    config.Config
	Bus       *alert.Bus
	Monitor   *monitor.Monitor
	Responder *emergency.Responder
	Health    *grpcserver.Server

	db        *database.Database
	redis     *redis.Client
	forwarder *mq.Forwarder
	closers   []func() error
}

// Build connects to every configured backend. Optional backends that are
// not configured are skipped; configured ones that fail are fatal.
func Build(ctx context.Context, cfg config.Config) (*Engine, error) {
	e := &Engine{Config: cfg}

	ev, err := evidence.NewLog(cfg.EvidenceDir)
	if err != nil {
		return nil, err
	}

	var archive monitor.Archiver
	var repStore reputation.Store = reputation.NewMemory(reputation.Known()...)
	if cfg.DatabaseURL != "" {
		db, err := database.New(ctx, database.Config{
			URL:         cfg.DatabaseURL,
			MaxConns:    cfg.DBMaxConns,
			MinConns:    cfg.DBMinConns,
			MaxConnLife: cfg.DBConnLife,
			MaxConnIdle: cfg.DBConnIdle,
		})
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		e.db = db
		archive = db
		repStore = reputation.Chain{repStore, db}

		stats := db.GetPoolStats()
		log.Printf("📊 Connection pool: %d/%d active, %d idle", stats["acquired_conns"], stats["max_conns"], stats["idle_conns"])
	}

	if cfg.RedisAddr != "" {
		e.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := e.redis.Ping(ctx).Err(); err != nil {
			e.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		repStore = reputation.NewRedisCache(e.redis, repStore, cfg.ReputationCacheTTL)
	}

	var contactStore contacts.Store
	var location emergency.LocationProvider
	if cfg.SupabaseURL != "" {
		store, err := contacts.NewSupabaseStore(contacts.SupabaseConfig{URL: cfg.SupabaseURL, APIKey: cfg.SupabaseKey, Table: cfg.ContactsTable})
		if err != nil {
			e.Close()
			return nil, err
		}
		contactStore = store
	} else {
		fs := contacts.NewFileStore(cfg.ContactsFile)
		contactStore, location = fs, fs
	}

	var notifier emergency.Notifier = emergency.LogNotifier{}
	if len(cfg.KafkaBrokers) > 0 {
		nw := mq.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopicNotifications)
		aw := mq.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopicAlerts)
		e.closers = append(e.closers, nw.Close, aw.Close)
		notifier = emergency.KafkaNotifier{Writer: nw}
		e.forwarder = mq.NewForwarder(aw, 256)
	}

	analyzer := analysis.NewClient(cfg.AnalysisURL, cfg.AnalysisTimeout)
	e.Health = grpcserver.NewServer(cfg.HealthInterval, 3*time.Second)
	e.Health.AddCheck(grpcserver.ServiceAnalysis, analyzer)

	var tr transcriber.Transcriber
	if cfg.TranscriberURL != "" {
		ht := transcriber.NewHTTPTranscriber(cfg.TranscriberURL, cfg.TranscriberLang, 0)
		tr = ht
		e.Health.AddCheck(grpcserver.ServiceTranscriber, ht)
	}

	e.Bus = alert.NewBus(cfg.AlertTTL, cfg.DedupWindow)

	deps := monitor.Deps{
		NewSource:   sourceFactory(cfg.AudioDevice, cfg.ChunkInterval),
		Analyzer:    analyzer,
		Transcriber: tr,
		Alerts:      e.Bus,
		Reputation:  repStore,
		Evidence:    ev,
	}
	if cfg.StreamingAnalysis {
		deps.TextAnalyzer = analyzer
	}
	if archive != nil {
		deps.Archive = archive
	}
	e.Monitor = monitor.New(monitor.Config{
		Session: session.Config{
			SampleInterval:    cfg.SampleInterval,
			DurationTick:      cfg.DurationTick,
			FinalChunkTimeout: cfg.FinalChunkTimeout,
			AnalysisTimeout:   cfg.AnalysisTimeout,
			DecayWeight:       cfg.DecayWeight,
			StreamingAnalysis: cfg.StreamingAnalysis,
		},
		RingTimeout: cfg.RingTimeout,
	}, deps)

	opts := []emergency.Option{
		emergency.WithEvidenceLog(ev),
		emergency.WithEvidenceTrigger(e.Monitor),
		emergency.WithAlertLocator(e.Bus),
	}
	if location != nil {
		opts = append(opts, emergency.WithLocation(location))
	}
	e.Responder = emergency.NewResponder(emergency.Config{
		OTPProtection: cfg.OTPProtection,
		AlertLevel:    cfg.OTPAlertLevel,
		NotifyTimeout: cfg.NotifyTimeout,
	}, contactStore, notifier, opts...)

	e.Bus.Subscribe(e.Responder.Handle)
	if e.forwarder != nil {
		e.Bus.Subscribe(e.forwarder.Handle)
	}
	return e, nil
}

// sourceFactory maps AUDIO_DEVICE to a per-call recorder.
func sourceFactory(device string, interval time.Duration) func() audio.Source {
	switch {
	case device == "none" || device == "":
		return nil
	case strings.HasPrefix(device, "file:"):
		path := strings.TrimPrefix(device, "file:")
		return func() audio.Source { return audio.NewRecorder(audio.FileDevice{Path: path}, interval) }
	case device == "simulated":
		return func() audio.Source { return audio.NewRecorder(audio.SimulatedDevice{}, interval) }
	default:
		return func() audio.Source {
			return audio.NewRecorder(audio.UnavailableDevice{Reason: "unknown device " + device}, interval)
		}
	}
}

// Run serves HTTP and gRPC until ctx is cancelled, then drains live calls
// and alert subscribers.
func (e *Engine) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              e.Config.HTTPAddr,
		Handler:           api.NewServer(e.Monitor, e.Bus, e.Responder).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	e.Monitor.StartReaper(ctx, 10*time.Second)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("🌐 HTTP API listening on %s", e.Config.HTTPAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		log.Printf("🩺 gRPC health listening on %s", e.Config.GRPCAddr)
		return e.Health.ListenAndServe(gctx, e.Config.GRPCAddr)
	})
	if e.forwarder != nil {
		g.Go(func() error { return e.forwarder.Run(gctx) })
	}

	err := g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), e.Config.FinalChunkTimeout+e.Config.AnalysisTimeout)
	defer cancel()
	e.Monitor.Close(drainCtx)
	e.Responder.Wait()
	return err
}

// Close releases backends. Safe after a failed Build.
func (e *Engine) Close() {
	if e.Bus != nil {
		e.Bus.Close()
	}
	for _, c := range e.closers {
		if err := c(); err != nil {
			log.Printf("close: %v", err)
		}
	}
	if e.redis != nil {
		e.redis.Close()
	}
	if e.db != nil {
		e.db.Close()
	}
}
