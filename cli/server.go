package cli

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/byteness/throttle/config"
	"github.com/byteness/throttle/health"
	"github.com/byteness/throttle/logging"
	"github.com/byteness/throttle/ratelimit"
	"github.com/byteness/throttle/server"
	"github.com/byteness/throttle/store"
)

// ServerCommandInput contains the input for the server command.
type ServerCommandInput struct {
	Listen string
	Memory bool
}

// ConfigureServerCommand sets up the server command with kingpin.
func ConfigureServerCommand(app *kingpin.Application, t *Throttle) {
	input := ServerCommandInput{}

	cmd := app.Command("server", "Run the rate limiting server")

	cmd.Flag("listen", "Listen address, overrides the configured one").
		Envar("THROTTLE_LISTEN").
		StringVar(&input.Listen)

	cmd.Flag("memory", "Use the in-process limiter instead of the shared store (single node only)").
		BoolVar(&input.Memory)

	cmd.Action(func(c *kingpin.ParseContext) error {
		err := ServerCommand(t, input)
		app.FatalIfError(err, "server")
		return nil
	})
}

// ServerCommand runs the daemon until SIGINT or SIGTERM.
func ServerCommand(t *Throttle, input ServerCommandInput) error {
	logger := t.Logger()

	manager, err := config.Load(t.ConfigPath, logger)
	if err != nil {
		return err
	}

	snap := manager.Snapshot()
	storeCfg := snap.Store()

	if t.Debug() {
		tiers, users, keys := snap.Counts()
		logger.LogEvent(logging.EventLogEntry{
			Timestamp: logging.Now(),
			EventType: "config_loaded",
			Component: "cli",
			Message:   "configuration loaded from " + manager.Path(),
			Detail: map[string]string{
				"store": storeCfg.Addr(),
				"tiers": strconv.Itoa(tiers),
				"users": strconv.Itoa(users),
				"keys":  strconv.Itoa(keys),
			},
		})
	}

	st := store.New(store.Options{
		Addr:      storeCfg.Addr(),
		DB:        storeCfg.DB,
		Password:  storeCfg.Password,
		OpTimeout: storeCfg.TimeoutDuration(),
		PoolSize:  storeCfg.MaxConnections,
	}, logger)
	defer st.Close()

	var limiter ratelimit.Limiter
	if input.Memory {
		ml := ratelimit.NewMemoryLimiter()
		defer ml.Close()
		limiter = ml
	} else {
		limiter = ratelimit.NewRedisLimiter(st)
	}

	hs := health.NewService(st, logger)

	srv, err := server.New(server.Options{
		Manager: manager,
		Store:   st,
		Limiter: limiter,
		Health:  hs,
		Logger:  logger,
		Listen:  input.Listen,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := manager.Watch(ctx, config.DefaultReloadInterval); err != nil && ctx.Err() == nil {
			logger.LogEvent(logging.EventLogEntry{
				Timestamp: logging.Now(),
				EventType: "config_watch_failed",
				Component: "cli",
				Message:   err.Error(),
			})
		}
	}()

	return srv.ListenAndServe(ctx, 10*time.Second)
}
