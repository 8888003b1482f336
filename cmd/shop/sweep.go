package main

import (
	"card-key-shop/internal/repo"
	"card-key-shop/internal/service"
	"card-key-shop/internal/worker"
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// repoPurger purges sessions straight through the repo; sweep runs without Redis or the identity provider.
type repoPurger struct {
	sessions repo.SessionRepo
}

func (p repoPurger) PurgeExpired(ctx context.Context) (int64, error) {
	return p.sessions.DeleteExpired(ctx, time.Now())
}

func sweepCmd() *cobra.Command {
	var productID string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Deliver paid orders that were waiting for stock",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			sweeper := worker.NewFulfillmentSweeper(a.fulfillment(), repoPurger{sessions: a.sessionRepo}, 0, a.logger)
			var result service.SweepResult
			if productID == "" {
				result, err = sweeper.SweepOnce(cmd.Context())
			} else {
				result, err = sweeper.FulfillProduct(cmd.Context(), productID)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked=%d delivered=%d waiting=%d\n",
				result.Checked, result.Delivered, result.Waiting)
			return nil
		},
	}
	cmd.Flags().StringVar(&productID, "product", "", "only sweep orders for this product")
	return cmd
}
