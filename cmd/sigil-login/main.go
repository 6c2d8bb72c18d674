// Command sigil-login walks a full wallet login against an auth backend:
// it generates a throwaway wallet, drives the orchestrator through the
// username, connecting and signing steps, and waits for deferred identity
// verification to complete.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/layer-3/sigil/adapters/challenge"
	"github.com/layer-3/sigil/adapters/store"
	"github.com/layer-3/sigil/adapters/verifier"
	"github.com/layer-3/sigil/adapters/wallet"
	"github.com/layer-3/sigil/config"
	"github.com/layer-3/sigil/core"
	"github.com/layer-3/sigil/service"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	username := flag.String("username", "demo", "username to register")
	wait := flag.Duration("wait", time.Minute, "how long to wait for identity verification")
	flag.Parse()

	cfg, err := config.LoadClient()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	w, err := wallet.Generate()
	if err != nil {
		logger.Fatal("Failed to generate wallet", zap.Error(err))
	}

	httpVerifier := verifier.NewHTTPVerifier(cfg.BackendURL)
	kv := store.NewMemoryKV()

	orch := service.NewOrchestrator(service.Deps{
		Wallet:     w,
		Challenges: challenge.NewHTTPProvider(cfg.BackendURL,
			challenge.WithLogger(logger),
			challenge.WithCacheTTL(cfg.ChallengeTTL),
		),
		Verifier:   httpVerifier,
		Drafts:     store.NewKVDraftStore(kv, cfg.Scope),
		Sessions:   store.NewKVSessionStore(kv, cfg.Scope),
	},
		service.WithLogger(logger),
		service.WithTypingWindow(cfg.TypingWindow),
		service.WithPoller(service.NewPoller(httpVerifier,
			service.WithPollerLogger(logger),
			service.WithPollBounds(cfg.PollInitial, cfg.PollMax, cfg.PollElapsed),
		)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := orch.Start(ctx); err != nil {
		logger.Fatal("Failed to start orchestrator", zap.Error(err))
	}
	go orch.BindWallet(ctx)

	if err := orch.SetUsername(ctx, *username); err != nil {
		logger.Fatal("Failed to set username", zap.Error(err))
	}
	if err := orch.RequestConnect(ctx); err != nil {
		logger.Fatal("Failed to request wallet connection", zap.Error(err))
	}

	if !waitForStep(orch, core.StepSigning, 10*time.Second) {
		logger.Fatal("Timed out waiting for the signing step", zap.Any("snapshot", orch.Snapshot()))
	}

	if err := orch.SignAndVerify(ctx); err != nil {
		logger.Fatal("Sign and verify failed", zap.Error(err))
	}

	snap := orch.Snapshot()
	logger.Info("logged in",
		zap.String("address", snap.Session.Address),
		zap.String("username", snap.Session.Username),
		zap.Bool("verified", snap.Session.Verified),
		zap.Bool("degraded", snap.DegradedAuth),
	)

	if !snap.Session.Verified && snap.Session.VerificationID != "" {
		logger.Info("waiting for identity verification",
			zap.String("verification_id", snap.Session.VerificationID))
		deadline := time.Now().Add(*wait)
		for time.Now().Before(deadline) {
			if s := orch.Snapshot(); s.Session != nil && s.Session.Verified {
				logger.Info("identity verified")
				return
			}
			time.Sleep(time.Second)
		}
		logger.Warn("identity verification did not complete in time")
	}
}

func waitForStep(orch *service.Orchestrator, step core.Step, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if orch.Snapshot().Step == step {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}
