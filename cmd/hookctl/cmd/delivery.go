package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dmcallister/wharfhook/internal/store"
)

// deliveryCmd represents the delivery command
var deliveryCmd = &cobra.Command{
	Use:   "delivery",
	Short: "Inspect webhook deliveries",
	Long:  `Inspect delivery records and their attempt history.`,
}

// listDeliveriesCmd represents the delivery list command
var listDeliveriesCmd = &cobra.Command{
	Use:   "list [endpoint-id]",
	Short: "List recent deliveries for an endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		ctx, cancel := cmdContext()
		defer cancel()
		d, err := getDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		deliveries, err := d.deliveries.ListByEndpoint(ctx, args[0], limit)
		if err != nil {
			return fmt.Errorf("failed to list deliveries: %w", err)
		}

		if outputJSON {
			printOutput(deliveries)
			return nil
		}
		if len(deliveries) == 0 {
			fmt.Println("No deliveries")
			return nil
		}
		for _, del := range deliveries {
			fmt.Printf("%s  %-9s  attempts=%d  %s  %s\n",
				del.ID, del.State, del.Attempts, del.EventType,
				del.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

// showDeliveryCmd represents the delivery show command
var showDeliveryCmd = &cobra.Command{
	Use:   "show [delivery-id]",
	Short: "Show a delivery record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		d, err := getDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		del, err := d.deliveries.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to fetch delivery: %w", err)
		}

		if outputJSON {
			printOutput(del)
			return nil
		}
		printDelivery(del)
		return nil
	},
}

// countDeliveriesCmd represents the delivery count command
var countDeliveriesCmd = &cobra.Command{
	Use:   "count",
	Short: "Count deliveries by state",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		d, err := getDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		counts, err := d.deliveries.CountByState(ctx)
		if err != nil {
			return fmt.Errorf("failed to count deliveries: %w", err)
		}

		if outputJSON {
			printOutput(counts)
			return nil
		}
		for _, st := range []store.State{store.StatePending, store.StateDelivered, store.StateFailed} {
			fmt.Printf("%-9s  %d\n", st, counts[st])
		}
		return nil
	},
}

func printDelivery(del *store.Delivery) {
	fmt.Printf("Delivery: %s\n", del.ID)
	fmt.Printf("  Endpoint: %s\n", del.EndpointID)
	fmt.Printf("  Event type: %s\n", del.EventType)
	fmt.Printf("  State: %s\n", del.State)
	fmt.Printf("  Attempts: %d\n", del.Attempts)
	fmt.Printf("  Created: %s\n", del.CreatedAt.Format("2006-01-02 15:04:05"))
	if del.LastAttemptAt != nil {
		fmt.Printf("  Last attempt: %s\n", del.LastAttemptAt.Format("2006-01-02 15:04:05"))
	}
	if del.ResponseCode != 0 {
		fmt.Printf("  Response code: %d\n", del.ResponseCode)
	}
	if del.ResponseBody != "" {
		fmt.Printf("  Response body: %s\n", del.ResponseBody)
	}
	if del.LastError != "" {
		fmt.Printf("  Last error: %s\n", del.LastError)
	}
	switch del.State {
	case store.StatePending:
		fmt.Printf("  Next retry: %s\n", del.NextRetryAt.Format("2006-01-02 15:04:05"))
	case store.StateDelivered:
		if del.DeliveredAt != nil {
			fmt.Printf("  Delivered: %s\n", del.DeliveredAt.Format("2006-01-02 15:04:05"))
		}
	case store.StateFailed:
		fmt.Printf("  Failed reason: %s\n", del.FailedReason)
	}
	fmt.Printf("  Payload: %s\n", del.Payload)
}

func init() {
	rootCmd.AddCommand(deliveryCmd)
	deliveryCmd.AddCommand(listDeliveriesCmd)
	deliveryCmd.AddCommand(showDeliveryCmd)
	deliveryCmd.AddCommand(countDeliveriesCmd)

	listDeliveriesCmd.Flags().Int("limit", 20, "maximum number of deliveries to list")
}
