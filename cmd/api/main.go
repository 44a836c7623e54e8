package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stibot/internal/classify"
	"stibot/internal/config"
	"stibot/internal/escalate"
	"stibot/internal/flow"
	"stibot/internal/ident"
	"stibot/internal/llm"
	"stibot/internal/safeio"
	"stibot/internal/stepgen"
	"stibot/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	fs, err := safeio.NewDataFS(cfg.DataDir)
	if err != nil {
		log.Fatalf("data dir: %v", err)
	}

	ctx := context.Background()
	client, err := buildLLM(ctx, cfg)
	if err != nil {
		log.Fatalf("llm: %v", err)
	}
	defer func() { _ = client.Close() }()

	sessions, err := store.NewMemorySessionStore(0)
	if err != nil {
		log.Fatalf("session store: %v", err)
	}
	conversations := store.NewFileStore(fs)

	engine := flow.NewEngine(
		sessions,
		conversations,
		ident.New(fs, ident.Config{
			Alphabet:  cfg.Allocator.Alphabet,
			Length:    cfg.Allocator.Length,
			MaxDraws:  cfg.Allocator.MaxDraws,
			LockTries: cfg.Allocator.LockTries,
		}),
		&classify.Classifier{LLM: client, Recorder: conversations},
		&stepgen.Generator{LLM: client, CorrectIncoherence: true},
		escalate.NewPolicy(fs, conversations, cfg.Handoff.WhatsAppPhone),
		flow.Config{
			ClarifyThreshold: cfg.Flow.ClarifyThreshold,
			AttemptThreshold: cfg.Flow.AttemptThreshold,
			RiskAckLevel:     classify.RiskLevel(cfg.Flow.RiskAckLevel),
		},
	)

	srv := &http.Server{
		Addr:              cfg.Port,
		Handler:           withCORS(newRouter(engine)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("Starting API server on %s (llm=%s)", cfg.Port, client.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}

// buildLLM assembles the adapter chain: the rate limiter sits on the
// transport, retry wraps it, and one overall deadline bounds the whole
// call. A call that hits the deadline is abandoned, never retried inline.
func buildLLM(ctx context.Context, cfg *config.Config) (llm.LLMClient, error) {
	var base llm.LLMClient
	if cfg.LLM.Fake {
		base = llm.NewFakeClient()
	} else {
		cli, err := llm.NewGeminiClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
		if err != nil {
			return nil, err
		}
		base = cli
	}
	return llm.Wrap(base,
		llm.WithLogging(nil),
		llm.WithTimeout(cfg.LLM.Timeout),
		llm.Retry(3, 500*time.Millisecond),
		llm.RateLimit(cfg.LLM.RPS, cfg.LLM.Burst),
	), nil
}
