package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/AvTe/RentConnect-sub000/cmd/walletctl/internal/output"
	"github.com/AvTe/RentConnect-sub000/internal/app"
	"github.com/AvTe/RentConnect-sub000/internal/service"

	"github.com/spf13/cobra"
)

var vouchersCmd = &cobra.Command{
	Use:   "vouchers",
	Short: "Voucher pool maintenance",
}

var voucherImportCmd = &cobra.Command{
	Use:   "import <file.csv>",
	Short: "Load vouchers into the pool from CSV",
	Long: `Columns: code, value, merchant (required), currency, description,
plan_tier, expires_at. The whole file is rejected if any code already
exists.`,
	Args: cobra.ExactArgs(1),
	RunE: runVoucherImport,
}

var voucherStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show available pool vouchers per plan tier",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			counts, err := a.Vouchers.PoolStats(ctx)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return output.JSON(counts)
			}
			rows := make([][]string, 0, len(counts))
			for _, c := range counts {
				tier := c.PlanTier
				if tier == "" {
					tier = "(any)"
				}
				rows = append(rows, []string{tier, strconv.FormatInt(c.Count, 10)})
			}
			output.Table([]string{"Plan tier", "Available"}, rows)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(vouchersCmd)
	vouchersCmd.AddCommand(voucherImportCmd)
	vouchersCmd.AddCommand(voucherStatsCmd)
}

func runVoucherImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	specs, err := service.ParseVoucherCSV(f)
	if err != nil {
		return err
	}

	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		added, err := a.Vouchers.AddToPool(ctx, specs)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return output.JSON(added)
		}
		output.Success(fmt.Sprintf("added %d vouchers to the pool", len(added)))
		return nil
	})
}
