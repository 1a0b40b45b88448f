package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Trigger a collection pass",
		Long:  "Runs every registered collector once, in dependency order, and waits for the pass to finish.",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Post("/api/v1/schedule", nil)
			if err != nil {
				return fmt.Errorf("run pass: %w", err)
			}

			var data map[string]any
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			collectors, _ := data["collectors"].(float64)
			duration, _ := data["duration"].(string)
			fmt.Printf("Pass complete: %d collectors in %s\n", int(collectors), duration)
			return nil
		},
	}
}
