package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dmcallister/wharfhook/internal/registry"
)

// endpointCmd represents the endpoint command
var endpointCmd = &cobra.Command{
	Use:   "endpoint",
	Short: "Manage webhook endpoints",
	Long:  `Register and manage the webhook endpoints that receive event deliveries.`,
}

// createEndpointCmd represents the endpoint create command
var createEndpointCmd = &cobra.Command{
	Use:   "create [owner-id] [url]",
	Short: "Register a new webhook endpoint",
	Long: `Register a new webhook endpoint for an owner. A signing secret is
generated and printed once; store it with the receiver.

Example:
  hookctl endpoint create acct_123 https://example.com/webhook --events order.created,order.refunded`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		events, _ := cmd.Flags().GetString("events")
		var filter []string
		if events != "" {
			for _, e := range strings.Split(events, ",") {
				if e = strings.TrimSpace(e); e != "" {
					filter = append(filter, e)
				}
			}
		}

		ctx, cancel := cmdContext()
		defer cancel()
		d, err := getDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		ep, err := d.registry.Register(ctx, args[0], args[1], filter)
		if err != nil {
			return fmt.Errorf("failed to register endpoint: %w", err)
		}

		if outputJSON {
			printOutput(ep)
			return nil
		}
		fmt.Printf("Registered endpoint: %s\n", ep.ID)
		fmt.Printf("  Owner: %s\n", ep.OwnerID)
		fmt.Printf("  URL: %s\n", ep.URL)
		fmt.Printf("  Events: %s\n", filterLabel(ep.EventFilter))
		fmt.Printf("  Secret: %s\n", ep.Secret)
		return nil
	},
}

// listEndpointsCmd represents the endpoint list command
var listEndpointsCmd = &cobra.Command{
	Use:   "list [owner-id]",
	Short: "List webhook endpoints for an owner",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		d, err := getDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		eps, err := d.registry.List(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to list endpoints: %w", err)
		}

		if outputJSON {
			printOutput(eps)
			return nil
		}
		if len(eps) == 0 {
			fmt.Println("No endpoints")
			return nil
		}
		for _, ep := range eps {
			fmt.Printf("%s  active=%t  %s  events=%s\n", ep.ID, ep.Active, ep.URL, filterLabel(ep.EventFilter))
		}
		return nil
	},
}

// showEndpointCmd represents the endpoint show command
var showEndpointCmd = &cobra.Command{
	Use:   "show [endpoint-id]",
	Short: "Show a webhook endpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		d, err := getDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		ep, err := d.registry.Get(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to fetch endpoint: %w", err)
		}

		if outputJSON {
			printOutput(ep)
			return nil
		}
		fmt.Printf("Endpoint: %s\n", ep.ID)
		fmt.Printf("  Owner: %s\n", ep.OwnerID)
		fmt.Printf("  URL: %s\n", ep.URL)
		fmt.Printf("  Active: %t\n", ep.Active)
		fmt.Printf("  Events: %s\n", filterLabel(ep.EventFilter))
		fmt.Printf("  Created: %s\n", ep.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("  Updated: %s\n", ep.UpdatedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

// updateEndpointCmd represents the endpoint update command
var updateEndpointCmd = &cobra.Command{
	Use:   "update [endpoint-id]",
	Short: "Update a webhook endpoint",
	Long: `Update an endpoint's URL, event filter, or active flag. Only the
flags you pass are changed.

Example:
  hookctl endpoint update ep_id --url https://example.com/v2/webhook --active=true`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var params registry.UpdateParams
		if cmd.Flags().Changed("url") {
			u, _ := cmd.Flags().GetString("url")
			params.URL = &u
		}
		if cmd.Flags().Changed("events") {
			events, _ := cmd.Flags().GetString("events")
			filter := []string{}
			for _, e := range strings.Split(events, ",") {
				if e = strings.TrimSpace(e); e != "" {
					filter = append(filter, e)
				}
			}
			params.EventFilter = &filter
		}
		if cmd.Flags().Changed("active") {
			active, _ := cmd.Flags().GetBool("active")
			params.Active = &active
		}

		ctx, cancel := cmdContext()
		defer cancel()
		d, err := getDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		ep, err := d.registry.Update(ctx, args[0], params)
		if err != nil {
			return fmt.Errorf("failed to update endpoint: %w", err)
		}

		if outputJSON {
			printOutput(ep)
			return nil
		}
		fmt.Printf("Updated endpoint: %s\n", ep.ID)
		fmt.Printf("  URL: %s\n", ep.URL)
		fmt.Printf("  Active: %t\n", ep.Active)
		fmt.Printf("  Events: %s\n", filterLabel(ep.EventFilter))
		return nil
	},
}

// rotateSecretCmd represents the endpoint rotate-secret command
var rotateSecretCmd = &cobra.Command{
	Use:   "rotate-secret [endpoint-id]",
	Short: "Rotate an endpoint's signing secret",
	Long: `Generate a new signing secret for an endpoint. Deliveries already
created keep the secret they were created with; only new deliveries sign
with the rotated secret.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		d, err := getDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		secret, err := d.registry.RotateSecret(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to rotate secret: %w", err)
		}

		if outputJSON {
			printOutput(map[string]string{"endpoint_id": args[0], "secret": secret})
			return nil
		}
		fmt.Printf("Rotated secret for %s\n", args[0])
		fmt.Printf("  Secret: %s\n", secret)
		return nil
	},
}

// deactivateEndpointCmd represents the endpoint deactivate command
var deactivateEndpointCmd = &cobra.Command{
	Use:   "deactivate [endpoint-id]",
	Short: "Deactivate a webhook endpoint",
	Long: `Deactivate an endpoint. Its pending deliveries fail on their next
claim without an HTTP attempt, and no new deliveries are created for it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		d, err := getDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		if err := d.registry.Deactivate(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to deactivate endpoint: %w", err)
		}
		fmt.Printf("Deactivated endpoint: %s\n", args[0])
		return nil
	},
}

// deleteEndpointCmd represents the endpoint delete command
var deleteEndpointCmd = &cobra.Command{
	Use:   "delete [endpoint-id]",
	Short: "Delete a webhook endpoint",
	Long:  `Delete an endpoint and, via cascade, its delivery history.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := cmdContext()
		defer cancel()
		d, err := getDeps(ctx)
		if err != nil {
			return err
		}
		defer d.close()

		if err := d.registry.Delete(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete endpoint: %w", err)
		}
		fmt.Printf("Deleted endpoint: %s\n", args[0])
		return nil
	},
}

func filterLabel(filter []string) string {
	if len(filter) == 0 {
		return "(all)"
	}
	return strings.Join(filter, ",")
}

func init() {
	rootCmd.AddCommand(endpointCmd)
	endpointCmd.AddCommand(createEndpointCmd)
	endpointCmd.AddCommand(listEndpointsCmd)
	endpointCmd.AddCommand(showEndpointCmd)
	endpointCmd.AddCommand(updateEndpointCmd)
	endpointCmd.AddCommand(rotateSecretCmd)
	endpointCmd.AddCommand(deactivateEndpointCmd)
	endpointCmd.AddCommand(deleteEndpointCmd)

	createEndpointCmd.Flags().String("events", "", "comma-separated event types (empty subscribes to all)")
	updateEndpointCmd.Flags().String("url", "", "new endpoint URL")
	updateEndpointCmd.Flags().String("events", "", "comma-separated event types (empty subscribes to all)")
	updateEndpointCmd.Flags().Bool("active", true, "whether the endpoint receives deliveries")
}
