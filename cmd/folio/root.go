package main

import (
	"github.com/spf13/cobra"

	"github.com/nainya/folio/internal/bootstrap"
	"github.com/nainya/folio/internal/config"
	"github.com/nainya/folio/internal/logger"
)

// cli carries the flags and the assembled app between cobra hooks
type cli struct {
	configPath  string
	logLevel    string
	metricsAddr string

	app *bootstrap.App
	log *logger.Logger
}

func newRootCmd() (*cobra.Command, *cli) {
	c := &cli{}
	root := &cobra.Command{
		Use:   "folio",
		Short: "Store and query composite digital objects",
		Long: `folio ingests multi-file documents into a metadata store and a file store,
and answers structural queries over the stored resources.`,
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "config file (default ./folio.yaml)")
	flags.StringVar(&c.logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	flags.StringVar(&c.metricsAddr, "metrics-addr", "", "address of the metrics endpoint, e.g. :9090")

	root.AddCommand(
		c.ingestCmd(),
		c.showCmd(),
		c.membersCmd(),
		c.parentsCmd(),
		c.reindexCmd(),
		c.adaptersCmd(),
		c.serveCmd(),
	)
	return root, c
}

func (c *cli) setup(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || (cmd.HasParent() && cmd.Parent().Name() == "completion") {
		return nil
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	if c.logLevel != "" {
		cfg.Logging.Level = c.logLevel
	}
	if c.metricsAddr != "" {
		cfg.Metrics.Addr = c.metricsAddr
	}

	c.log = logger.InitGlobalLogger(logger.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty,
		Output: cmd.ErrOrStderr(),
	})
	c.app, err = bootstrap.New(cmd.Context(), cfg, c.log)
	return err
}

// teardown closes the app. main calls it after Execute so that failed
// commands release their backends too.
func (c *cli) teardown() error {
	if c.app == nil {
		return nil
	}
	err := c.app.Close()
	c.app = nil
	return err
}
