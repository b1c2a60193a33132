package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/ssergorp/menagerie/internal/attention"
	"github.com/ssergorp/menagerie/internal/backoff"
	"github.com/ssergorp/menagerie/internal/config"
	"github.com/ssergorp/menagerie/internal/cooldown"
	"github.com/ssergorp/menagerie/internal/decision"
	"github.com/ssergorp/menagerie/internal/llm"
	"github.com/ssergorp/menagerie/internal/membership"
	"github.com/ssergorp/menagerie/internal/observability"
	"github.com/ssergorp/menagerie/internal/orchestrator"
	"github.com/ssergorp/menagerie/internal/platform"
	"github.com/ssergorp/menagerie/internal/platform/discord"
	"github.com/ssergorp/menagerie/internal/respond"
	"github.com/ssergorp/menagerie/internal/roster"
	"github.com/ssergorp/menagerie/internal/scheduler"
	"github.com/ssergorp/menagerie/internal/storage"
)

// runServe assembles the engine from the configuration and runs it until a
// shutdown signal arrives.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	slog.SetDefault(logger)

	instanceID := uuid.NewString()
	logger.Info("starting menagerie",
		"version", version,
		"commit", commit,
		"instance_id", instanceID,
		"config", configPath,
	)

	metrics := observability.NewMetrics()
	// Each concurrent consumer gets its own source; rand.Rand is not safe
	// for shared use across different locks.
	seed := time.Now().UnixNano()
	orcRng := rand.New(rand.NewSource(seed))      // #nosec G404 -- scheduling jitter, not security
	regRng := rand.New(rand.NewSource(seed + 1))  // #nosec G404
	rotRng := rand.New(rand.NewSource(seed + 2))  // #nosec G404

	ros, closeRoster, err := buildRoster(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRoster()

	completion, err := buildCompletion(cfg, metrics, regRng)
	if err != nil {
		return err
	}

	plat, lifecycle, err := buildPlatform(ctx, cfg, ros, logger)
	if err != nil {
		return err
	}

	att := attention.NewStore(attention.Config{
		DecayStep:     cfg.Engine.Attention.DecayStep,
		MentionBudget: cfg.Engine.Attention.MentionBudget,
		MentionTTL:    cfg.Engine.Attention.MentionTTL,
	}, attention.WithLogger(logger))
	mem := membership.NewTracker(cfg.Engine.MaxChannelsPerAgent, membership.WithLogger(logger))
	cd := cooldown.NewLedger(cooldown.Config{
		HumanCooldown: cfg.Engine.Cooldown.Human,
		BotCooldown:   cfg.Engine.Cooldown.Bot,
		EntryTTL:      cfg.Engine.Cooldown.EntryTTL,
	})
	dec := decision.NewDecider(completion, decision.Config{
		CacheTTL:      cfg.Engine.Decision.CacheTTL,
		ContextWindow: cfg.Engine.Decision.ContextWindow,
		BotRunLength:  cfg.Engine.Decision.BotRunLength,
		CallTimeout:   cfg.Engine.Decision.CallTimeout,
	}, decision.WithLogger(logger))
	responder := respond.NewResponder(completion, plat, respond.Config{
		ContextWindow: cfg.Engine.Respond.ContextWindow,
		MaxTokens:     cfg.Engine.Respond.MaxTokens,
		CallTimeout:   cfg.Engine.Respond.CallTimeout,
	}, respond.WithLogger(logger))

	orc := orchestrator.New(plat, ros, att, mem, cd, dec, responder,
		orchestratorConfig(cfg),
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithRand(orcRng),
	)
	plat.(subscribable).Subscribe(platform.ListenerFunc(orc.OnMessage))

	sched := scheduler.New(scheduler.WithLogger(logger))
	if err := orc.Register(sched); err != nil {
		return fmt.Errorf("register drivers: %w", err)
	}
	if cfg.Engine.ModelRotationSpec != "" {
		if err := sched.Cron("model_rotation", cfg.Engine.ModelRotationSpec, func(jobCtx context.Context) {
			rotateModels(jobCtx, ros, completion.registry, rotRng, logger)
		}); err != nil {
			return fmt.Errorf("register model rotation: %w", err)
		}
	}

	var store *storage.SnapshotStore
	if cfg.Storage.SnapshotPath != "" {
		store, err = storage.Open(cfg.Storage.SnapshotPath)
		if err != nil {
			return err
		}
		defer store.Close()
		if err := store.LoadState(ctx, att, cd); err != nil {
			logger.Warn("state restore failed, starting cold", "error", err)
		}
		if err := sched.Cron("storage_snapshot", cfg.Storage.SnapshotSpec, func(jobCtx context.Context) {
			if err := store.SaveState(jobCtx, att, cd); err != nil {
				logger.Warn("snapshot failed", "error", err)
			}
		}); err != nil {
			return fmt.Errorf("register snapshot job: %w", err)
		}
		probePolicy := backoff.Policy{Initial: 500 * time.Millisecond, Max: 5 * time.Second, Factor: 2}
		if err := sched.Cron("storage_probe", cfg.Storage.ProbeSpec, func(jobCtx context.Context) {
			if err := store.Probe(jobCtx, probePolicy, 3); err != nil {
				logger.Warn("snapshot store unreachable, engine continues on in-memory state",
					"error", err)
			}
		}); err != nil {
			return fmt.Errorf("register storage probe: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if lifecycle.start != nil {
		if err := lifecycle.start(ctx); err != nil {
			return err
		}
	}
	sched.Start(ctx)

	srv := newOpsServer(cfg.HTTP.Addr, opsState{
		instanceID: instanceID,
		startedAt:  time.Now(),
		metrics:    metrics,
		roster:     ros,
		cooldowns:  cd,
		membership: mem,
		store:      store,
		logger:     logger,
	})
	srv.start()

	logger.Info("menagerie started", "http_addr", cfg.HTTP.Addr)
	<-ctx.Done()
	logger.Info("shutdown signal received")

	sched.Stop()
	if !orc.Drain() {
		logger.Warn("dispatches abandoned during shutdown")
	}
	if store != nil {
		saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := store.SaveState(saveCtx, att, cd); err != nil {
			logger.Warn("final snapshot failed", "error", err)
		}
		cancel()
	}
	if lifecycle.stop != nil {
		if err := lifecycle.stop(); err != nil {
			logger.Warn("platform stop failed", "error", err)
		}
	}
	srv.shutdown()

	logger.Info("menagerie stopped")
	return nil
}

// subscribable is the listener-registration side of a platform, which the
// platform contract itself does not carry.
type subscribable interface {
	Subscribe(l platform.Listener)
}

type platformLifecycle struct {
	start func(ctx context.Context) error
	stop  func() error
}

// buildPlatform selects the Discord gateway or, for local development runs
// with Discord disabled, an in-memory platform.
func buildPlatform(ctx context.Context, cfg *config.Config, ros roster.Roster, logger *slog.Logger) (platform.Platform, platformLifecycle, error) {
	if !cfg.Discord.Enabled {
		logger.Warn("discord disabled, using in-memory platform")
		return platform.NewMemoryPlatform(), platformLifecycle{}, nil
	}

	byName := map[string]string{}
	agents, err := ros.ListAgents(ctx)
	if err != nil {
		return nil, platformLifecycle{}, fmt.Errorf("list agents for author resolution: %w", err)
	}
	for _, a := range agents {
		byName[a.Name] = a.ID
	}

	adapter, err := discord.NewAdapter(discord.Config{
		Token:       cfg.Discord.BotToken,
		GuildIDs:    cfg.Discord.GuildIDs,
		UseWebhooks: cfg.Discord.UseWebhooks,
	},
		discord.WithLogger(logger),
		discord.WithAuthorResolver(func(username string) (string, bool) {
			id, ok := byName[username]
			return id, ok
		}),
	)
	if err != nil {
		return nil, platformLifecycle{}, err
	}
	return adapter, platformLifecycle{start: adapter.Start, stop: adapter.Stop}, nil
}

// buildRoster opens the SQLite roster when configured and seeds it from the
// agents section; otherwise the seeds live in memory.
func buildRoster(ctx context.Context, cfg *config.Config) (roster.Roster, func(), error) {
	seeds := make([]roster.Agent, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		seeds = append(seeds, roster.Agent{
			ID:          a.ID,
			Name:        a.Name,
			Tag:         a.Tag,
			Description: a.Description,
			AvatarURL:   a.AvatarURL,
			Model:       a.Model,
		})
	}

	if cfg.Storage.RosterPath == "" {
		return roster.NewMemoryRoster(seeds...), func() {}, nil
	}

	sq, err := roster.OpenSQLiteRoster(cfg.Storage.RosterPath)
	if err != nil {
		return nil, nil, err
	}
	for _, a := range seeds {
		if err := sq.Upsert(ctx, a); err != nil {
			sq.Close()
			return nil, nil, err
		}
	}
	return sq, func() { sq.Close() }, nil
}

// buildCompletion wires the configured providers into a registry and wraps
// it with latency metrics.
func buildCompletion(cfg *config.Config, metrics *observability.Metrics, rng *rand.Rand) (*timedCompletion, error) {
	reg := llm.NewRegistry(rng)
	var catalog []string

	if cfg.LLM.Anthropic.APIKey != "" {
		p, err := llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:       cfg.LLM.Anthropic.APIKey,
			DefaultModel: cfg.LLM.Anthropic.Model,
		})
		if err != nil {
			return nil, err
		}
		reg.Register(p)
		if cfg.LLM.Anthropic.Model != "" {
			catalog = append(catalog, "anthropic/"+cfg.LLM.Anthropic.Model)
		}
	}
	if cfg.LLM.OpenAI.APIKey != "" {
		p, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:       cfg.LLM.OpenAI.APIKey,
			DefaultModel: cfg.LLM.OpenAI.Model,
		})
		if err != nil {
			return nil, err
		}
		reg.Register(p)
		if cfg.LLM.OpenAI.Model != "" {
			catalog = append(catalog, "openai/"+cfg.LLM.OpenAI.Model)
		}
	}

	reg.SetDefault(cfg.LLM.DefaultProvider)
	reg.SetCatalog(catalog)
	return &timedCompletion{registry: reg, metrics: metrics, defaultName: cfg.LLM.DefaultProvider}, nil
}

// timedCompletion records completion latency per provider around the
// registry.
type timedCompletion struct {
	registry    *llm.Registry
	metrics     *observability.Metrics
	defaultName string
}

func (t *timedCompletion) Complete(ctx context.Context, modelHint string, req llm.Request) (string, error) {
	provider := t.defaultName
	if before, _, ok := strings.Cut(modelHint, "/"); ok {
		provider = before
	}
	start := time.Now()
	text, err := t.registry.Complete(ctx, modelHint, req)
	t.metrics.CompletionDuration.WithLabelValues(provider).Observe(time.Since(start).Seconds())
	return text, err
}

func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	o := cfg.Engine.Orchestrator
	return orchestrator.Config{
		TickInterval:            o.TickInterval,
		ActivityWindow:          o.ActivityWindow,
		RecentWindow:            o.RecentWindow,
		SaturationWindow:        o.SaturationWindow,
		MaxDispatchesPerChannel: o.MaxDispatchesPerChannel,
		MentionTopK:             o.MentionTopK,
		MemberBoost:             o.MemberBoost,
		DecayInterval:           o.DecayInterval,
		RotationSpec:            o.RotationSpec,
		RotationStale:           o.RotationStale,
		RotationBatch:           o.RotationBatch,
		WatchdogInterval:        o.WatchdogInterval,
		IdleThreshold:           o.IdleThreshold,
		SweepSpec:               o.SweepSpec,
		SettleGrace:             o.SettleGrace,
	}
}

// rotateModels reassigns one random agent to a different catalog model, so
// long-running populations drift across providers over time.
func rotateModels(ctx context.Context, ros roster.Roster, reg *llm.Registry, rng *rand.Rand, logger *slog.Logger) {
	agent, ok, err := roster.PickRandom(ctx, ros, rng)
	if err != nil {
		logger.Warn("model rotation skipped, roster unavailable", "error", err)
		return
	}
	if !ok {
		return
	}
	next := reg.RotateModel(agent.Model)
	if next == agent.Model {
		return
	}
	if err := ros.SetModel(ctx, agent.ID, next); err != nil {
		logger.Warn("model rotation failed", "agent_id", agent.ID, "error", err)
		return
	}
	logger.Info("rotated agent model", "agent_id", agent.ID, "from", agent.Model, "to", next)
}

// runAgents prints the effective agent roster.
func runAgents(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ros, closeRoster, err := buildRoster(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRoster()

	agents, err := ros.ListAgents(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tTAG\tMODEL\tDESCRIPTION")
	for _, a := range agents {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Name, a.Tag, a.Model, a.Description)
	}
	return w.Flush()
}
