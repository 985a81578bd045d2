package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/AvTe/RentConnect-sub000/cmd/walletctl/internal/output"
	"github.com/AvTe/RentConnect-sub000/internal/app"
	"github.com/AvTe/RentConnect-sub000/internal/config"
	"github.com/AvTe/RentConnect-sub000/internal/logger"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	format  string
)

var rootCmd = &cobra.Command{
	Use:   "walletctl",
	Short: "Operator tooling for the credit wallet",
	Long: `Run migrations, reconciliation passes and pool maintenance against
the credit wallet database.

  walletctl migrate up              Apply schema migrations
  walletctl sweep                   Run one reconciliation pass
  walletctl requery <orderNo>       Re-check a payment with its provider
  walletctl vouchers import <csv>   Load vouchers into the pool
  walletctl balance <agentId>       Show and verify an agent balance`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree and prints any error once.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		output.Error(err.Error())
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config/config.yaml", "config file")
	rootCmd.PersistentFlags().StringVarP(&format, "format", "f", "table", "output format: table, json")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger.Init("walletctl", cfg.Log.Level, true)
	return cfg, nil
}

// withApp builds the full app for the duration of fn.
func withApp(ctx context.Context, fn func(context.Context, *app.App) error) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()
	return fn(ctx, a)
}

func jsonOutput() bool {
	return format == "json"
}
