package main

import (
	"context"
	"encoding/base64"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"posed/internal/config"
	"posed/internal/domain"
	cryptoinfra "posed/internal/infra/crypto"
	"posed/internal/infra/db"
	httpinfra "posed/internal/infra/http"
	"posed/internal/infra/noncereg"
	"posed/internal/infra/policyopa"
	"posed/internal/infra/ratelimit"
	"posed/internal/infra/snapshot"
	"posed/internal/usecase"
)

func main() {
	cfg := config.FromEnv()
	log := newLogger(cfg.LogLevel)
	defer log.Sync()

	verify, err := buildVerifier(cfg, log)
	if err != nil {
		log.Fatal("init verifier", zap.Error(err))
	}

	guard, err := buildGuard(cfg, log)
	if err != nil {
		log.Fatal("init replay guard", zap.Error(err))
	}

	srv := httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		Verify:      verify,
		Guard:       guard,
		RateLimiter: buildRateLimiter(cfg, log),
		Logger:      log,
	})
	log.Info("posed listening", zap.String("addr", cfg.HTTPAddr))
	if err := srv.Run(); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func buildVerifier(cfg config.Config, log *zap.Logger) (*usecase.VerifyReceipt, error) {
	challengerPub, err := base64.StdEncoding.DecodeString(cfg.ChallengerPublicKeyBase64)
	if err != nil {
		return nil, err
	}
	nodePub, err := base64.StdEncoding.DecodeString(cfg.NodePublicKeyBase64)
	if err != nil {
		return nil, err
	}
	challengerSig, err := cryptoinfra.NewChallengerVerifier(challengerPub)
	if err != nil {
		return nil, err
	}
	nodeSig, err := cryptoinfra.NewNodeVerifier(nodePub)
	if err != nil {
		return nil, err
	}

	verify, err := usecase.NewVerifyReceipt(usecase.VerifyReceiptConfig{
		Crypto:        cryptoinfra.NewService(),
		ChallengerSig: challengerSig,
		NodeSig:       nodeSig,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}

	if cfg.WitnessBundlePath != "" {
		engine, err := policyopa.NewEngineFromBundlePath(context.Background(), cfg.WitnessBundlePath)
		if err != nil {
			return nil, err
		}
		log.Info("witness policy loaded",
			zap.String("path", cfg.WitnessBundlePath),
			zap.String("bundle_hash", engine.BundleHash()))
		for _, t := range []domain.ChallengeType{domain.ChallengeUptime, domain.ChallengeStorage, domain.ChallengeRelay} {
			verify.Witnesses[t] = engine
		}
	} else {
		verify.Witnesses = usecase.DefaultWitnesses()
	}

	if cfg.RedisAddr != "" {
		registry, err := noncereg.NewRedisRegistry(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.NonceTTL())
		if err != nil {
			return nil, err
		}
		verify.Nonces = registry
	} else {
		registry, err := noncereg.NewMemoryRegistry(noncereg.MemoryConfig{TTL: cfg.NonceTTL()})
		if err != nil {
			return nil, err
		}
		verify.Nonces = registry
	}

	store, err := db.NewStore(cfg)
	if err != nil {
		return nil, err
	}
	if store.DB != nil {
		verify.Verdicts = db.NewVerdictRepository(store.DB)
	}
	return verify, nil
}

func buildGuard(cfg config.Config, log *zap.Logger) (*usecase.ReplayGuard, error) {
	guardCfg := usecase.ReplayGuardConfig{
		SyncPersist: cfg.ReplaySnapshotSync,
		Logger:      log,
	}
	if cfg.ReplaySnapshotPath != "" {
		store, err := snapshot.NewStore(cfg.ReplaySnapshotPath)
		if err != nil {
			return nil, err
		}
		guardCfg.Store = store
	}
	return usecase.NewReplayGuard(context.Background(), guardCfg), nil
}

func buildRateLimiter(cfg config.Config, log *zap.Logger) domain.RateLimiter {
	if cfg.RateLimitRequests <= 0 {
		return nil
	}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter, err := ratelimit.NewRedisLimiter(client, nil)
		if err == nil {
			return limiter
		}
		log.Warn("redis rate limiter unavailable, using memory", zap.Error(err))
	}
	return ratelimit.NewMemoryLimiter(ratelimit.MemoryConfig{MaxKeys: cfg.RateLimitMaxKeys})
}

func newLogger(level string) *zap.Logger {
	zapCfg := zap.NewProductionConfig()
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		zapCfg.Level = zap.NewAtomicLevelAt(parsed)
	}
	log, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	return log
}
