package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"cratetrail/internal/assign"
	"cratetrail/internal/authz"
	"cratetrail/internal/config"
	"cratetrail/internal/directory"
	"cratetrail/internal/fastpath"
	"cratetrail/internal/ledger"
	"cratetrail/internal/logging"
	"cratetrail/internal/reconcile"
)

type globalFlags struct {
	config    string
	json      bool
	actorID   string
	actorName string
	role      string
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(c.flags.config))
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) jsonOutput() bool {
	return c.flags != nil && c.flags.json
}

// actor builds the acting user from flags, then the environment.
func (c *commandContext) actor() ledger.Actor {
	id := firstNonEmpty(c.flags.actorID, os.Getenv("CRATETRAIL_ACTOR"), os.Getenv("USER"), "cli")
	role := firstNonEmpty(c.flags.role, os.Getenv("CRATETRAIL_ROLE"))
	return ledger.Actor{ID: id, Name: strings.TrimSpace(c.flags.actorName), Role: strings.ToLower(role)}
}

// services is the per-invocation wiring of the ledger, cache and domain services.
type services struct {
	cfg    *config.Config
	logger *slog.Logger
	store  *ledger.Store
	cache  *fastpath.Cache
	assign *assign.Service
	engine *reconcile.Engine
}

func (c *commandContext) withServices(cmd *cobra.Command, fn func(context.Context, *services) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = logging.WithCorrelationID(ctx, "")
	actor := c.actor()
	ctx = logging.WithActor(ctx, actor.ID, actor.Role)

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	store, err := ledger.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()

	cache, err := fastpath.Open(ctx, cfg, fastpath.LedgerSource{Store: store}, logger)
	if err != nil {
		logging.WarnWithContext(logger, "fast-path cache unavailable; continuing without it", "fastpath_open_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "run cratetrail doctor"),
			logging.String(logging.FieldImpact, "progress queries read the ledger directly"),
		)
		cache = nil
	}
	defer cache.Close()

	auth := authz.FromConfig(cfg)
	dir := directory.FromConfig(cfg)
	svc := &services{
		cfg:    cfg,
		logger: logger,
		store:  store,
		cache:  cache,
		assign: assign.New(store, assign.Options{
			Cache:         cache,
			Directory:     dir,
			Authorizer:    auth,
			DefaultWeight: decimal.NewFromFloat(cfg.Policy.DefaultCrateWeight),
			Logger:        logger,
		}),
		engine: reconcile.New(store, reconcile.Options{
			Cache:      cache,
			Authorizer: auth,
			Directory:  dir,
			Policy:     cfg.Policy,
			Logger:     logger,
		}),
	}
	return fn(ctx, svc)
}

// resolveBatch accepts a batch UUID or its code.
func (s *services) resolveBatch(ctx context.Context, ref string) (*ledger.Batch, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("batch id or code is required")
	}
	if id, err := uuid.Parse(ref); err == nil {
		return s.store.GetBatch(ctx, id)
	}
	return s.store.GetBatchByCode(ctx, ref)
}

// resolveCrate accepts a crate UUID or its code.
func (s *services) resolveCrate(ctx context.Context, ref string) (*ledger.Crate, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("crate id or code is required")
	}
	if id, err := uuid.Parse(ref); err == nil {
		return s.store.GetCrate(ctx, id)
	}
	return s.store.GetCrateByCode(ctx, ref)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
