package main

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/johnayoung/cexdata/internal/config"
	"github.com/johnayoung/cexdata/internal/exchange"
	"github.com/johnayoung/cexdata/internal/logger"
	"github.com/johnayoung/cexdata/internal/storage"
)

// app holds what every subcommand needs once the root has initialized.
type app struct {
	configPath   string
	dataDir      string
	exchangeName string
	logLevel     string

	cfg  *config.AppConfig
	logs *logger.LoggerManager
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Keep local OHLCV candle histories in sync with an exchange",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initialize(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (JSON, or YAML by extension)")
	flags.StringVar(&a.dataDir, "data-dir", "", "root directory of the series files")
	flags.StringVar(&a.exchangeName, "exchange", "", fmt.Sprintf("exchange profile %v", exchange.ProfileNames()))
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(
		newDownloadCmd(a),
		newLoadCmd(a),
		newInventoryCmd(a),
		newIntervalsCmd(a),
	)
	return cmd
}

// initialize loads configuration, applies flag overrides and sets up logging.
func (a *app) initialize(cmd *cobra.Command) error {
	cm := config.NewConfigManager(a.configPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	cfg, err := cm.LoadConfig(cmd.Context())
	if err != nil {
		return configError(err)
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.Storage.DataDir = a.dataDir
	}
	if flags.Changed("exchange") {
		cfg.Exchange.Name = a.exchangeName
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return configError(err)
	}
	a.cfg = cfg

	switch cfg.Logging.Output {
	case "file":
		a.logs, err = logger.NewLoggerManager(cfg.Logging)
		if err != nil {
			return configError(fmt.Errorf("failed to setup logging: %w", err))
		}
	case "stdout":
		a.logs = logger.NewLoggerManagerWithWriter(cfg.Logging, cmd.OutOrStdout())
	default:
		a.logs = logger.NewLoggerManagerWithWriter(cfg.Logging, cmd.ErrOrStderr())
	}
	return nil
}

func (a *app) close() error {
	if a.logs == nil {
		return nil
	}
	return a.logs.Close()
}

func (a *app) componentLogger(component string) *slog.Logger {
	return a.logs.GetComponentLogger(component).Logger
}

func (a *app) store() *storage.SeriesStore {
	return storage.NewSeriesStore(a.cfg.Storage.DataDir, a.componentLogger("storage"))
}

func (a *app) profile() (exchange.Profile, error) {
	profile, err := exchange.LookupProfile(a.cfg.Exchange.Name)
	if err != nil {
		return exchange.Profile{}, configError(err)
	}
	return profile, nil
}
