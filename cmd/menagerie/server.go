package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ssergorp/menagerie/internal/backoff"
	"github.com/ssergorp/menagerie/internal/config"
	"github.com/ssergorp/menagerie/internal/cooldown"
	"github.com/ssergorp/menagerie/internal/membership"
	"github.com/ssergorp/menagerie/internal/observability"
	"github.com/ssergorp/menagerie/internal/roster"
	"github.com/ssergorp/menagerie/internal/storage"
)

// opsState is everything the operational endpoints report on.
type opsState struct {
	instanceID string
	startedAt  time.Time
	metrics    *observability.Metrics
	roster     roster.Roster
	cooldowns  *cooldown.Ledger
	membership *membership.Tracker
	store      *storage.SnapshotStore
	logger     *slog.Logger
}

type opsServer struct {
	srv    *http.Server
	logger *slog.Logger
}

func newOpsServer(addr string, state opsState) *opsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(state.metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", state.handleHealthz)
	mux.HandleFunc("/status", state.handleStatus)

	return &opsServer{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: state.logger,
	}
}

func (s *opsServer) start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("ops listener failed", "error", err)
		}
	}()
}

func (s *opsServer) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("ops listener shutdown failed", "error", err)
	}
}

func (o opsState) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if o.store != nil {
		policy := backoff.Policy{Initial: 100 * time.Millisecond, Max: time.Second, Factor: 2}
		if err := o.store.Probe(r.Context(), policy, 2); err != nil {
			status = "storage unreachable"
			code = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"status": status})
}

func (o opsState) handleStatus(w http.ResponseWriter, r *http.Request) {
	agentCount := 0
	membershipCount := 0
	if agents, err := o.roster.ListAgents(r.Context()); err == nil {
		agentCount = len(agents)
		for _, a := range agents {
			membershipCount += o.membership.ChannelCount(a.ID)
		}
	}

	payload := map[string]any{
		"instance_id":      o.instanceID,
		"uptime_seconds":   int64(time.Since(o.startedAt).Seconds()),
		"agents":           agentCount,
		"memberships":      membershipCount,
		"active_cooldowns": o.cooldowns.Len(),
		"persistent":       o.store != nil,
	}
	if o.store != nil {
		payload["storage_healthy"] = o.store.Healthy()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(payload)
}

// runStatus queries the /status endpoint of a running instance.
func runStatus(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	addr := cfg.HTTP.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	url := "http://" + addr + "/status"

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("query %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status endpoint returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	fmt.Fprintln(os.Stdout, strings.TrimSpace(string(body)))
	return nil
}
