// Sheratan core - runs the mesh's HTTP API, MCTS-Light dispatcher loop,
// chain runner, stale-lease reaper, and operational state machine.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sheratan/mesh/pkg/api"
	"github.com/sheratan/mesh/pkg/chainrunner"
	"github.com/sheratan/mesh/pkg/config"
	"github.com/sheratan/mesh/pkg/decisionjournal"
	"github.com/sheratan/mesh/pkg/dispatcher"
	"github.com/sheratan/mesh/pkg/ledger"
	"github.com/sheratan/mesh/pkg/queue"
	"github.com/sheratan/mesh/pkg/registry"
	"github.com/sheratan/mesh/pkg/statemachine"
	"github.com/sheratan/mesh/pkg/store"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	envPath := flag.String("env-file", getEnv("ENV_FILE", ".env"), "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		log.Printf("warning: could not load %s: %v", *envPath, err)
	} else {
		log.Printf("loaded environment from %s", *envPath)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.StoreDir)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	inbox, err := queue.NewInbox(cfg.QueueInbox)
	if err != nil {
		log.Fatalf("failed to open inbox: %v", err)
	}
	outbox, err := queue.NewOutbox(cfg.QueueOutbox)
	if err != nil {
		log.Fatalf("failed to open outbox: %v", err)
	}
	reg := registry.New(cfg.WorkerCooldownFailures, cfg.WorkerCooldown())
	journal, err := decisionjournal.Open(cfg.LogsDir, nil)
	if err != nil {
		log.Fatalf("failed to open decision journal: %v", err)
	}
	priors, err := decisionjournal.NewPriorsStore(cfg.PoliciesDir)
	if err != nil {
		log.Fatalf("failed to open priors store: %v", err)
	}
	led := ledger.Open(cfg.LedgerPath)

	runner := chainrunner.New(st, logger)
	transport := dispatcher.NewHybridTransport(inbox, 10*time.Second)
	disp := dispatcher.New(st, reg, priors, journal, inbox, outbox, transport, cfg, runner, led, buildID(), logger)

	checks := []statemachine.ServiceCheck{
		{
			Name:     "llm_bridge",
			Critical: true,
			Probe: func(probeCtx context.Context) error {
				if cfg.LLMBridgeURL == "" {
					return nil
				}
				req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, cfg.LLMBridgeURL+"/health", nil)
				if err != nil {
					return err
				}
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					return err
				}
				defer resp.Body.Close()
				if resp.StatusCode >= 300 {
					return &httpStatusError{resp.StatusCode}
				}
				return nil
			},
		},
		{
			Name:     "inbox_capacity",
			Critical: false,
			Probe: func(probeCtx context.Context) error {
				depth, err := inbox.Depth()
				if err != nil {
					return err
				}
				if depth >= cfg.MaxInboxDepth {
					return &capacityError{depth, cfg.MaxInboxDepth}
				}
				return nil
			},
		},
	}
	sm, err := statemachine.Open(cfg.RuntimeDir, cfg.LogsDir, checks, logger)
	if err != nil {
		log.Fatalf("failed to open state machine: %v", err)
	}

	reaper := queue.NewReaper(inbox, cfg.ReaperInterval(), logger)

	go disp.Run(ctx)
	go reaper.Run(ctx)
	go sm.RunHealthLoop(ctx, cfg.HealthPollInterval(), 5*time.Second)
	go runOutboxDrainLoop(ctx, disp, cfg.DispatchPollInterval())

	server := api.NewServer(st, reg, disp, inbox, journal, sm, cfg, logger)
	srv := &http.Server{
		Addr:    portAddr(cfg.CorePort),
		Handler: server.Router(),
	}

	go func() {
		logger.Info("sheratancore: listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("sheratancore: shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("sheratancore: http shutdown error", "error", err)
	}
	if err := sm.Shutdown("system"); err != nil {
		logger.Error("sheratancore: state machine shutdown error", "error", err)
	}
	if err := priors.Flush(); err != nil {
		logger.Error("sheratancore: priors flush error", "error", err)
	}
}

func runOutboxDrainLoop(ctx context.Context, disp *dispatcher.Dispatcher, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			disp.DrainResults(ctx)
		}
	}
}

func portAddr(port int) string {
	return ":" + strconv.Itoa(port)
}

func buildID() string {
	return getEnv("BUILD_ID", "dev")
}

type httpStatusError struct{ status int }

func (e *httpStatusError) Error() string {
	return "llm bridge returned status " + strconv.Itoa(e.status)
}

type capacityError struct{ depth, max int }

func (e *capacityError) Error() string {
	return "inbox depth " + strconv.Itoa(e.depth) + " at or above max " + strconv.Itoa(e.max)
}
