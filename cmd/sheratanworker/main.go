// Sheratan worker - registers with the core, claims jobs from the shared
// inbox, executes them bounded to a filesystem root, and reports results.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/sheratan/mesh/pkg/config"
	"github.com/sheratan/mesh/pkg/llmbridge"
	"github.com/sheratan/mesh/pkg/model"
	"github.com/sheratan/mesh/pkg/queue"
	"github.com/sheratan/mesh/pkg/worker"
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
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	inbox, err := queue.NewInbox(cfg.QueueInbox)
	if err != nil {
		log.Fatalf("failed to open inbox: %v", err)
	}
	outbox, err := queue.NewOutbox(cfg.QueueOutbox)
	if err != nil {
		log.Fatalf("failed to open outbox: %v", err)
	}
	failedReports, err := queue.NewFailedReports(cfg.FailedReports, logger)
	if err != nil {
		log.Fatalf("failed to open failed-reports store: %v", err)
	}

	llm := llmbridge.New(cfg.LLMBridgeURL, 120*time.Second, 2)

	wcfg := worker.Config{
		WorkerID:      workerID,
		Capabilities:  capabilities(),
		Endpoint:      "file-queue",
		CoreBaseURL:   getEnv("CORE_BASE_URL", "http://localhost:"+portString(cfg.CorePort)),
		RootDir:       cfg.WorkerRootDir,
		LeaseDuration: cfg.LeaseDuration(),
	}

	w := worker.New(wcfg, inbox, outbox, failedReports, llm, logger)

	regCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	if err := w.RegisterWithRetry(regCtx); err != nil {
		cancel()
		log.Fatalf("failed to register with core: %v", err)
	}
	cancel()

	logger.Info("sheratanworker: registered", "worker_id", workerID)
	w.Run(ctx)
	logger.Info("sheratanworker: shutdown complete", "worker_id", workerID)
}

// capabilities declares every job kind this worker instance handles. A
// production deployment would split list_files/read_file/write_file workers
// from llm_call/agent_plan/selfloop workers across separate processes; this
// single binary advertises the full set for the reference deployment.
func capabilities() []model.Capability {
	return []model.Capability{
		{Kind: model.KindListFiles, CostHint: 0.01},
		{Kind: model.KindReadFile, CostHint: 0.01},
		{Kind: model.KindWriteFile, CostHint: 0.02},
		{Kind: model.KindLLMCall, CostHint: 0.5},
		{Kind: model.KindAgentPlan, CostHint: 0.5},
		{Kind: model.KindSelfloop, CostHint: 0.5},
	}
}

func portString(port int) string {
	if port <= 0 {
		return "8001"
	}
	return strconv.Itoa(port)
}
