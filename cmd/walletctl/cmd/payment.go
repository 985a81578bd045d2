package cmd

import (
	"context"
	"strconv"

	"github.com/AvTe/RentConnect-sub000/cmd/walletctl/internal/output"
	"github.com/AvTe/RentConnect-sub000/internal/app"
	"github.com/AvTe/RentConnect-sub000/internal/service"

	"github.com/spf13/cobra"
)

var requeryCmd = &cobra.Command{
	Use:   "requery <orderNo>",
	Short: "Re-check a payment with its provider",
	Long: `Ask the provider for the current state of a payment and apply it.
Works on timed out payments too. Completed and failed payments are
returned as they are.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			result, err := a.Payments.Requery(ctx, args[0])
			if err != nil {
				return err
			}
			return printPayment(result)
		})
	},
}

func init() {
	rootCmd.AddCommand(requeryCmd)
}

func printPayment(result *service.PaymentResult) error {
	if jsonOutput() {
		return output.JSON(result)
	}
	p := result.Payment
	output.Header("Payment " + p.OrderNo)
	output.Table([]string{"Agent", "Provider", "Credits", "Charge", "Status", "Attempts", "Receipt"}, [][]string{{
		p.AgentID,
		p.Provider,
		strconv.FormatInt(p.Amount, 10),
		p.ChargeAmount.StringFixed(2) + " " + p.Currency,
		p.Status,
		strconv.Itoa(p.Attempts),
		p.Receipt,
	}})
	output.Muted(result.Message)
	return nil
}
