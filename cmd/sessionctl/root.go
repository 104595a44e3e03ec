package main

import (
	"fmt"
	"io"
	"os"
	"time"

	goSession "github.com/MrEthical07/goSession"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type app struct {
	cfg    cliConfig
	logger zerolog.Logger
	out    io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{out: os.Stdout}

	root := &cobra.Command{
		Use:   "sessionctl",
		Short: "Sign in to the console backend and inspect the local session",
		Long: `sessionctl drives a goSession engine from the command line.

The session is kept in a local credential store (bolt by default) so it
survives between invocations. Settings come from the config file, then
SESSIONCTL_* environment variables, then flags.

Examples:
  sessionctl mock-server &
  sessionctl login --email admin@example.com --password s3cret
  sessionctl can add_role --route /roles/new
  sessionctl watch --refresh-interval 30s`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	root.SetOut(os.Stdout)

	addConfigFlags(root.PersistentFlags())

	root.AddCommand(
		newLoginCmd(a),
		newWhoamiCmd(a),
		newCanCmd(a),
		newLogoutCmd(a),
		newWatchCmd(a),
		newMockServerCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := loadCLIConfig(cmd.Flags())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.out = cmd.OutOrStdout()
	a.logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}).
		Level(cfg.level()).
		With().Timestamp().Logger()
	return nil
}

// openEngine builds an engine over the configured store. The returned
// cleanup closes the engine and any client it opened.
func (a *app) openEngine() (*goSession.Engine, func(), error) {
	cfg, err := a.cfg.engineConfig()
	if err != nil {
		return nil, nil, err
	}

	b := goSession.New().WithConfig(cfg).WithLogger(a.logger)

	var rdb *redis.Client
	if cfg.Store.Backend == goSession.StoreRedis {
		rdb = redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
		b.WithRedis(rdb)
	}

	engine, err := b.Build()
	if err != nil {
		if rdb != nil {
			_ = rdb.Close()
		}
		return nil, nil, fmt.Errorf("build engine: %w", err)
	}
	return engine, func() {
		engine.Close()
		if rdb != nil {
			_ = rdb.Close()
		}
	}, nil
}
