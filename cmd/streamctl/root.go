package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/rohittredhu/stream-flix/internal/app"
	"github.com/rohittredhu/stream-flix/internal/domain/entity"
	"github.com/rohittredhu/stream-flix/internal/domain/port"
	"github.com/rohittredhu/stream-flix/internal/eventbus"
	"github.com/rohittredhu/stream-flix/internal/infra/config"
	"github.com/rohittredhu/stream-flix/internal/infra/postgres"
	"github.com/rohittredhu/stream-flix/internal/usecase"
	"github.com/rohittredhu/stream-flix/pkg/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cli holds what every subcommand shares. Backends are opened on first use
// so that, for example, "status" never needs a database.
type cli struct {
	cfg   *config.Config
	log   *zap.Logger
	infra *app.Infra
	svc   *usecase.ItemService
}

func newRootCmd(c *cli) *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "streamctl",
		Short:         "Operate the stream-flix media pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if c.infra != nil {
				return nil
			}
			if c.cfg == nil {
				cfg, err := config.Load()
				if err != nil {
					return err
				}
				c.cfg = cfg
			}
			if logLevel == "" {
				logLevel = c.cfg.LogLevel
			}
			log, err := logger.New(logLevel)
			if err != nil {
				return err
			}
			c.log = log
			c.infra = app.New(c.cfg, log)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (defaults to LOG_LEVEL, usually info)")

	root.AddCommand(
		newSubmitCmd(c),
		newEnqueueCmd(c),
		newStatusCmd(c),
		newFailedCmd(c),
		newItemCmd(c),
		newPublishCmd(c),
	)
	return root
}

func (c *cli) close() {
	if c.infra != nil {
		c.infra.Close()
		c.infra = nil
	}
	if c.log != nil {
		_ = c.log.Sync()
	}
}

func (c *cli) jobOptions() entity.JobOptions {
	return entity.JobOptions{MaxAttempts: c.cfg.JobMaxAttempts, BackoffBase: c.cfg.JobBackoffBase}
}

func (c *cli) inspector(ctx context.Context) (port.JobInspector, error) {
	q, err := c.infra.Queue(ctx)
	if err != nil {
		return nil, err
	}
	in, ok := q.(port.JobInspector)
	if !ok {
		return nil, usecase.ErrInspectionUnsupported
	}
	return in, nil
}

func (c *cli) service(ctx context.Context) (*usecase.ItemService, error) {
	if c.svc != nil {
		return c.svc, nil
	}
	pool, err := c.infra.Postgres(ctx)
	if err != nil {
		return nil, err
	}
	q, err := c.infra.Queue(ctx)
	if err != nil {
		return nil, err
	}
	bus, err := c.infra.Bus(ctx)
	if err != nil {
		return nil, err
	}
	itemCache, err := c.infra.Cache(ctx)
	if err != nil {
		return nil, err
	}
	c.svc = usecase.NewItemService(postgres.NewItemRepository(pool), q, itemCache, eventbus.NewPublisher(bus, c.log), c.jobOptions(), c.log)
	return c.svc, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
