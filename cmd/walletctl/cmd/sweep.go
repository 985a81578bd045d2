package cmd

import (
	"context"
	"strconv"

	"github.com/AvTe/RentConnect-sub000/cmd/walletctl/internal/output"
	"github.com/AvTe/RentConnect-sub000/internal/app"
	"github.com/AvTe/RentConnect-sub000/internal/job"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one reconciliation pass",
	Long: `Resolve stale pending payments with their providers and expire
lapsed vouchers. Skipped when another instance holds the sweep lock.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			result, ran, err := a.SweepJob().RunOnce(ctx)
			if err != nil {
				return err
			}
			if !ran {
				output.Warning("another instance holds the sweep lock, nothing done")
				return nil
			}
			return printSweep(result)
		})
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func printSweep(result job.SweepResult) error {
	if jsonOutput() {
		return output.JSON(result)
	}
	r := result.Payments
	output.Header("Reconciliation")
	output.Table([]string{"Checked", "Completed", "Failed", "Timed out", "Pending", "Errors", "Vouchers expired"}, [][]string{{
		strconv.Itoa(r.Checked),
		strconv.Itoa(r.Completed),
		strconv.Itoa(r.Failed),
		strconv.Itoa(r.TimedOut),
		strconv.Itoa(r.Pending),
		strconv.Itoa(r.Errors),
		strconv.FormatInt(result.VouchersExpired, 10),
	}})
	return nil
}
