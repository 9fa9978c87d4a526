package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tanpawarit/hcp-interaction-agent/agent/agents/oracle"
	"github.com/tanpawarit/hcp-interaction-agent/agent/agents/orchestrator"
	"github.com/tanpawarit/hcp-interaction-agent/agent/api"
	contractx "github.com/tanpawarit/hcp-interaction-agent/agent/contract"
	llmx "github.com/tanpawarit/hcp-interaction-agent/agent/llm"
	promptx "github.com/tanpawarit/hcp-interaction-agent/agent/prompt"
	"github.com/tanpawarit/hcp-interaction-agent/agent/records"
	statex "github.com/tanpawarit/hcp-interaction-agent/agent/state"
	"github.com/tanpawarit/hcp-interaction-agent/agent/summary"
	"github.com/tanpawarit/hcp-interaction-agent/agent/tool"
	configx "github.com/tanpawarit/hcp-interaction-agent/pkg/config"
	_ "github.com/tanpawarit/hcp-interaction-agent/pkg/logger/autoload"
	"github.com/tanpawarit/hcp-interaction-agent/pkg/metrics"
	openrouterx "github.com/tanpawarit/hcp-interaction-agent/pkg/openrouter"
	qstashx "github.com/tanpawarit/hcp-interaction-agent/pkg/qstash"
)

type AppConfig struct {
	HTTPAddr        string        `envconfig:"HTTP_ADDR" default:":8080"`
	SessionBackend  string        `envconfig:"SESSION_BACKEND" default:"memory"`
	RecordBackend   string        `envconfig:"RECORD_BACKEND" default:"memory"`
	ReminderURL     string        `envconfig:"REMINDER_URL"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	GinMode         string        `envconfig:"GIN_MODE" default:"release"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("hcp agent stopped")
	}
}

func run(ctx context.Context) error {
	appCfg := configx.MustNew[AppConfig]("")
	llmCfg := configx.MustNew[llmx.Config]("LLM")
	agentCfg := configx.MustNew[orchestrator.Config]("AGENT")

	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				log.Warn().Err(err).Msg("close resource")
			}
		}
	}()

	lockTTL := statex.LockTTLFor(agentCfg.TurnTimeout)
	store, locker, closer, err := openSessionBackend(ctx, appCfg.SessionBackend, lockTTL)
	if err != nil {
		return err
	}
	if closer != nil {
		closers = append(closers, closer)
	}
	sessions, err := statex.NewSessions(store, statex.WithLocker(locker))
	if err != nil {
		return err
	}

	recordRepo, closer, err := openRecordBackend(ctx, appCfg.RecordBackend)
	if err != nil {
		return err
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	prompts := promptx.LoadPromptSet()
	summaryCfg := llmCfg.OpenRouterFor(contractx.AgentTypeSummarizer)
	summaryClient, err := openrouterx.NewClient(summaryCfg)
	if err != nil {
		return fmt.Errorf("create summary client: %w", err)
	}
	summarizer, err := summary.NewOpenAI(
		summaryClient,
		summaryCfg.Model,
		prompts.Summary,
		summary.WithTemperature(float64(summaryCfg.Temperature)),
		summary.WithFollowUpPrompt(prompts.FollowUp),
	)
	if err != nil {
		return fmt.Errorf("create summarizer: %w", err)
	}

	registry := tool.NewDefaultRegistry(tool.WithMessageDrafter(summarizer))
	decider, err := oracle.NewFromConfig(ctx, *llmCfg, registry.Infos())
	if err != nil {
		return fmt.Errorf("create oracle: %w", err)
	}

	m := metrics.New()
	orch, err := orchestrator.New(sessions, decider, registry, recordRepo, *agentCfg, orchestrator.WithObserver(m))
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	opts := []api.Option{
		api.WithSummarizer(summarizer),
		api.WithObserver(m),
		api.WithModelName(llmCfg.OpenRouterFor(contractx.AgentTypeOracle).Model),
	}
	if url := strings.TrimSpace(appCfg.ReminderURL); url != "" {
		qstashCfg := configx.MustNew[qstashx.Config]("QSTASH")
		qstashClient := qstashx.MustNew(*qstashCfg)
		reminders, err := api.NewReminderScheduler(qstashClient, url)
		if err != nil {
			return err
		}
		opts = append(opts, api.WithReminders(reminders), api.WithVerifier(qstashClient))
		log.Info().Str("destination", url).Msg("follow-up reminders enabled")
	}

	gin.SetMode(appCfg.GinMode)
	handler := api.NewHandler(orch, sessions, recordRepo, opts...)
	srv := &http.Server{
		Addr:              appCfg.HTTPAddr,
		Handler:           api.NewRouter(handler, m.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("addr", appCfg.HTTPAddr).
			Str("sessions", appCfg.SessionBackend).
			Str("records", appCfg.RecordBackend).
			Msg("hcp agent listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), appCfg.ShutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down http server")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openSessionBackend(ctx context.Context, backend string, lockTTL time.Duration) (statex.Store, statex.Locker, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "memory":
		return statex.NewMemoryStore(), statex.NewLocalLocker(), nil, nil
	case "upstash":
		cfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS")
		store, err := statex.NewUpstashRedisStore(*cfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open upstash session store: %w", err)
		}
		return store, statex.NewUpstashLocker(store, lockTTL), nil, nil
	case "redis":
		cfg := configx.MustNew[statex.RedisConfig]("REDIS")
		client := statex.NewRedisClient(*cfg)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		store, err := statex.NewRedisStore(client, statex.WithTTL(cfg.TTL))
		if err != nil {
			return nil, nil, nil, err
		}
		return store, statex.NewRedisLocker(client, lockTTL), client, nil
	case "sqlite":
		cfg := configx.MustNew[statex.SQLiteConfig]("SQLITE")
		store, err := statex.OpenSQLiteStore(ctx, *cfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite session store: %w", err)
		}
		return store, statex.NewLocalLocker(), store, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown session backend %q", backend)
	}
}

func openRecordBackend(ctx context.Context, backend string) (contractx.RecordRepository, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "memory":
		return records.NewMemoryStore(), nil, nil
	case "postgres":
		cfg := configx.MustNew[records.PostgresConfig]("POSTGRES")
		store := records.NewPostgresStore(records.NewPostgresDB(*cfg))
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, nil, fmt.Errorf("migrate interactions table: %w", err)
		}
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unknown record backend %q", backend)
	}
}
