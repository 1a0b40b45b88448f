package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon health",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/health")
			if err != nil {
				return fmt.Errorf("fetch health: %w", err)
			}

			var data map[string]any
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Printf("Status:      %v\n", data["status"])
			fmt.Printf("Version:     %v\n", data["version"])
			fmt.Printf("Go:          %v\n", data["go_version"])
			fmt.Printf("Uptime:      %v\n", data["uptime"])
			fmt.Printf("Collectors:  %v\n", data["collectors"])
			fmt.Printf("All idle:    %v\n", data["all_idle"])
			return nil
		},
	}
}
