package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/AvTe/RentConnect-sub000/cmd/walletctl/internal/output"
	"github.com/AvTe/RentConnect-sub000/internal/app"

	"github.com/spf13/cobra"
)

var balanceCmd = &cobra.Command{
	Use:   "balance <agentId>",
	Short: "Show an agent balance and check it against the ledger",
	Args:  cobra.ExactArgs(1),
	RunE:  runBalance,
}

func init() {
	rootCmd.AddCommand(balanceCmd)
}

type balanceReport struct {
	AgentID    string `json:"agentId"`
	WalletID   int64  `json:"walletId"`
	Balance    int64  `json:"balance"`
	LedgerSum  int64  `json:"ledgerSum"`
	Consistent bool   `json:"consistent"`
}

func runBalance(cmd *cobra.Command, args []string) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
		wallet, err := a.Ledger.GetWalletByAgent(ctx, args[0])
		if err != nil {
			return err
		}
		balance, sum, err := a.Ledger.VerifyBalance(ctx, wallet.ID)
		if err != nil {
			return err
		}
		report := balanceReport{
			AgentID:    wallet.AgentID,
			WalletID:   wallet.ID,
			Balance:    balance,
			LedgerSum:  sum,
			Consistent: balance == sum,
		}
		if jsonOutput() {
			return output.JSON(report)
		}

		output.Table([]string{"Agent", "Wallet", "Balance", "Ledger sum"}, [][]string{{
			report.AgentID,
			strconv.FormatInt(report.WalletID, 10),
			strconv.FormatInt(report.Balance, 10),
			strconv.FormatInt(report.LedgerSum, 10),
		}})
		if !report.Consistent {
			output.Warning(fmt.Sprintf("balance differs from ledger by %d", balance-sum))
		}
		return nil
	})
}
