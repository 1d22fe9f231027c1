package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// broadcastCmd represents the broadcast command
var broadcastCmd = &cobra.Command{
	Use:   "broadcast [event-type] [payload-json]",
	Short: "Broadcast a domain event to subscribed endpoints",
	Long: `Broadcast an event: a pending delivery is created for every active
endpoint whose filter matches the event type. The dispatcher picks them up
on its next poll.

Example:
  hookctl broadcast order.created '{"order_id":"ord_42","total":1999}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eventType := args[0]
		payload := json.RawMessage(args[1])
		if !json.Valid(payload) {
			return fmt.Errorf("payload is not valid JSON")
		}
		owner, _ := cmd.Flags().GetString("owner")

		ctx, cancel := cmdContext()
		defer cancel()
		d, err := getDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		ids, err := d.broadcast.Broadcast(ctx, eventType, payload, owner)
		if err != nil {
			return fmt.Errorf("failed to broadcast: %w", err)
		}

		if outputJSON {
			printOutput(map[string]any{"event_type": eventType, "delivery_ids": ids})
			return nil
		}
		fmt.Printf("Broadcast %s: %d deliveries created\n", eventType, len(ids))
		for _, id := range ids {
			fmt.Printf("  %s\n", id)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(broadcastCmd)
	broadcastCmd.Flags().String("owner", "", "scope the broadcast to one owner's endpoints")
}
