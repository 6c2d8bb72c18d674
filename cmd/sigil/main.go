package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/joho/godotenv"
	"github.com/layer-3/sigil/adapters/events"
	"github.com/layer-3/sigil/adapters/store"
	"github.com/layer-3/sigil/adapters/tokenizer"
	"github.com/layer-3/sigil/config"
	"github.com/layer-3/sigil/service"
	"github.com/layer-3/sigil/transport/http"
	"go.uber.org/zap"
)

func main() {
	// Optional; real deployments configure through the environment.
	_ = godotenv.Load()

	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := buildLogger(cfg.Debug)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	privateKey, err := loadSigningKey(cfg.SigningKey)
	if err != nil {
		logger.Fatal("Failed to load signing key", zap.Error(err))
	}

	ctx := context.Background()
	kv, err := store.NewRedisKVFromURL(ctx, cfg.RedisURL, "sigil:")
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer kv.Close()

	// Initialize Watermill Redis publisher
	wmLogger := watermill.NewStdLogger(cfg.Debug, false)
	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: kv.Client(),
		},
		wmLogger,
	)
	if err != nil {
		logger.Fatal("Failed to create Redis publisher", zap.Error(err))
	}

	eventPub := events.NewWatermillPublisher(publisher)
	jwtTokenizer := tokenizer.NewJWTTokenizer(privateKey)

	authService := service.NewAuthService(jwtTokenizer, kv, eventPub,
		service.WithAuthLogger(logger),
		service.WithVerifyDelay(cfg.VerifyDelay),
	)

	// Setup Gin router
	router := http.SetupRouter(authService)

	logger.Info("auth backend listening", zap.String("addr", cfg.ListenAddr))
	if err := router.Run(cfg.ListenAddr); err != nil {
		logger.Fatal("Failed to start server", zap.Error(err))
	}
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// loadSigningKey parses a hex-encoded SEC1 EC private key, or generates a
// fresh one when unset. Generated keys invalidate session tokens on restart.
func loadSigningKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey == "" {
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}
	der, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode signing key: %w", err)
	}
	key, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	return key, nil
}
