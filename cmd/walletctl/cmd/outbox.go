package cmd

import (
	"context"
	"fmt"

	"github.com/AvTe/RentConnect-sub000/cmd/walletctl/internal/output"
	"github.com/AvTe/RentConnect-sub000/internal/app"
	"github.com/AvTe/RentConnect-sub000/internal/repository"

	"github.com/spf13/cobra"
)

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Event outbox maintenance",
}

var outboxRequeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Return parked events to the send queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
			n, err := repository.NewOutboxRepository(a.DB).RequeueFailed(ctx)
			if err != nil {
				return err
			}
			output.Success(fmt.Sprintf("requeued %d events", n))
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(outboxCmd)
	outboxCmd.AddCommand(outboxRequeueCmd)
}
