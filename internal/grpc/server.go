// Package grpc serves the standard gRPC health protocol for the engine and
// its collaborators.
package grpc

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const (
	ServiceEngine      = "callguard.Engine"
	ServiceAnalysis    = "callguard.Analysis"
	ServiceTranscriber = "callguard.Transcriber"
)

// Checker é implementado pelos colaboradores externos (análise, transcrição)
type Checker interface {
	Ping(ctx context.Context) error
}

// CheckContext guarda o resultado da última verificação de um serviço
type CheckContext struct {
	Service   string
	Serving   bool
	LastCheck time.Time
	LastError string
}

type Server struct {
	grpc     *gogrpc.Server
	health   *health.Server
	interval time.Duration
	timeout  time.Duration

	checkers    map[string]Checker
	checks      map[string]*CheckContext
	ChecksMutex sync.RWMutex
}

func NewServer(interval, timeout time.Duration) *Server {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	s := &Server{
		grpc:     gogrpc.NewServer(),
		health:   health.NewServer(),
		interval: interval,
		timeout:  timeout,
		checkers: make(map[string]Checker),
		checks:   make(map[string]*CheckContext),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(ServiceEngine, healthpb.HealthCheckResponse_SERVING)
	return s
}

// AddCheck registers a collaborator. Until the first probe it reports
// NOT_SERVING.
func (s *Server) AddCheck(service string, c Checker) {
	s.ChecksMutex.Lock()
	s.checkers[service] = c
	s.checks[service] = &CheckContext{Service: service}
	s.ChecksMutex.Unlock()
	s.health.SetServingStatus(service, healthpb.HealthCheckResponse_NOT_SERVING)
}

// Probe checks every collaborator once.
func (s *Server) Probe(ctx context.Context) {
	s.ChecksMutex.RLock()
	checkers := make(map[string]Checker, len(s.checkers))
	for name, c := range s.checkers {
		checkers[name] = c
	}
	s.ChecksMutex.RUnlock()

	for name, c := range checkers {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		err := c.Ping(cctx)
		cancel()
		s.record(name, err)
	}
}

func (s *Server) record(service string, err error) {
	s.ChecksMutex.Lock()
	cc := s.checks[service]
	wasServing := cc.Serving
	cc.LastCheck = time.Now()
	cc.Serving = err == nil
	cc.LastError = ""
	if err != nil {
		cc.LastError = err.Error()
	}
	s.ChecksMutex.Unlock()

	status := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		if wasServing {
			log.Printf("⚠️  %s unhealthy: %v", service, err)
		}
	}
	s.health.SetServingStatus(service, status)
}

// Checks returns a copy of the latest probe results.
func (s *Server) Checks() []CheckContext {
	s.ChecksMutex.RLock()
	defer s.ChecksMutex.RUnlock()
	out := make([]CheckContext, 0, len(s.checks))
	for _, cc := range s.checks {
		out = append(out, *cc)
	}
	return out
}

// Serve probes collaborators periodically and serves on lis until ctx is
// cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		s.Probe(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Probe(ctx)
			}
		}
	}()

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()

	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// ListenAndServe opens addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", addr, err)
	}
	return s.Serve(ctx, lis)
}
