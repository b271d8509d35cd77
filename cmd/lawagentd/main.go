// lawagentd runs the evidence capture pipeline: it ingests chat-platform
// callbacks over HTTP (and optionally Kafka), detects labor-dispute
// keywords, and anchors matched evidence on an EVM chain.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/BrKDDD/LawAgent2/internal/anchorstore"
	"github.com/BrKDDD/LawAgent2/internal/assemble"
	"github.com/BrKDDD/LawAgent2/internal/config"
	"github.com/BrKDDD/LawAgent2/internal/detect"
	"github.com/BrKDDD/LawAgent2/internal/ingest"
	"github.com/BrKDDD/LawAgent2/internal/logging"
	"github.com/BrKDDD/LawAgent2/internal/pipeline"
	"github.com/BrKDDD/LawAgent2/internal/signer"
	"github.com/BrKDDD/LawAgent2/internal/source"
	"github.com/BrKDDD/LawAgent2/internal/submitter"
	"github.com/BrKDDD/LawAgent2/pkg/retry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.LogLevel, cfg.DevMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatalw("pipeline exited", "error", err)
	}
}

func run(cfg *config.Config, log *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.MonitoringDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.MonitoringDuration)
		defer cancel()
		log.Infow("monitoring window bounded", "duration", cfg.MonitoringDuration)
	}

	rules, err := detect.Compile(cfg.Ruleset())
	if err != nil {
		return err
	}
	log.Infow("ruleset compiled", "version", rules.Version, "keywords", cfg.Keywords)

	store, err := buildStore(ctx, cfg, log)
	if err != nil {
		return err
	}

	raw := buildRawStore(cfg, log)

	policy := retry.Policy{
		MaxAttempts: cfg.RetryCeiling,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		Jitter:      0.2,
	}

	evSigner, txSigner, err := buildSigners(cfg, policy)
	if err != nil {
		return err
	}

	rpc, err := ethclient.Dial(cfg.ChainRPCURL)
	if err != nil {
		return err
	}
	defer rpc.Close()

	sub := submitter.New(rpc, submitter.Config{
		Policy:            policy,
		ConfirmationDepth: cfg.ConfirmationDepth,
		PollInterval:      cfg.PollInterval,
		PollTimeout:       cfg.PollTimeout,
		SubmitTimeout:     cfg.SubmitTimeout,
	}, log)

	orch := pipeline.New(pipeline.Config{
		Workers:      cfg.Workers,
		QueueSize:    cfg.QueueSize,
		ScanBaseURL:  cfg.ScanBaseURL,
		DrainTimeout: cfg.DrainTimeout,
	}, pipeline.Deps{
		Rules:     rules,
		Detector:  detect.New(log),
		Assembler: assemble.New(raw, log),
		RawStore:  raw,
		Store:     store,
		Signer:    evSigner,
		Submitter: sub,
		TxSigner:  txSigner,
	}, log)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           ingest.New(orch, store, cfg.WebhookSecret, cfg.Platforms, log).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error {
		log.Infow("ingest server listening", "addr", cfg.ListenAddr, "platforms", cfg.Platforms)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shCtx)
	})
	if len(cfg.KafkaBrokers) > 0 {
		src, err := source.NewKafka(source.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
			Group:   cfg.KafkaGroup,
		}, orch, log)
		if err != nil {
			return err
		}
		defer src.Close()
		g.Go(func() error { return src.Run(gctx) })
		log.Infow("kafka source attached", "topic", cfg.KafkaTopic, "group", cfg.KafkaGroup)
	}

	err = g.Wait()
	log.Infow("pipeline drained, shutting down")
	return err
}

func buildStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (anchorstore.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Warnw("DATABASE_URL not set, anchor records will not survive restarts")
		return anchorstore.NewMemory(), nil
	}
	pool, err := anchorstore.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	return anchorstore.NewPostgres(pool), nil
}

func buildRawStore(cfg *config.Config, log *logging.Logger) assemble.RawStore {
	if cfg.RedisAddr == "" {
		return assemble.NewMemoryRawStore(cfg.RawRetention)
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	log.Infow("raw payload retention on redis", "addr", cfg.RedisAddr, "ttl", cfg.RawRetention)
	return assemble.NewRedisRawStore(client, cfg.RawRetention)
}

// buildSigners resolves the evidence signer and the transaction signer.
// Remote custody needs SIGNER_BASE_URL; the dev path signs both evidence
// and transactions with PRIVATE_KEY.
func buildSigners(cfg *config.Config, policy retry.Policy) (signer.Signer, submitter.TxSigner, error) {
	keyHex := strings.TrimPrefix(cfg.SignerPrivateKey, "0x")
	if keyHex == "" {
		return nil, nil, errors.New("PRIVATE_KEY is required for transaction signing")
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, nil, err
	}
	txSigner := submitter.NewLocalTxSigner(key)

	if cfg.SignerBaseURL != "" {
		remote := signer.NewRemote(cfg.SignerBaseURL, cfg.SignerBearerToken, cfg.SignerKeyRef,
			txSigner.Address().Hex(), policy, cfg.SignTimeout)
		return remote, txSigner, nil
	}
	local, err := signer.NewLocal(keyHex)
	if err != nil {
		return nil, nil, err
	}
	return local, txSigner, nil
}
