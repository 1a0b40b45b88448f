package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newPluginsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List loaded plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/plugins/")
			if err != nil {
				return fmt.Errorf("list plugins: %w", err)
			}

			var names []string
			if err := json.Unmarshal(resp.Data, &names); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(names) == 0 {
				fmt.Println("No plugins loaded.")
				return nil
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func newRecordsCmd() *cobra.Command {
	var flagJSON bool

	cmd := &cobra.Command{
		Use:   "records <plugin>",
		Short: "Show a plugin's collected records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Get("/api/v1/plugins/" + args[0] + "/records")
			if err != nil {
				return fmt.Errorf("fetch records for %s: %w", args[0], err)
			}

			if flagJSON {
				var pretty any
				if err := json.Unmarshal(resp.Data, &pretty); err != nil {
					return fmt.Errorf("parse response: %w", err)
				}
				out, _ := json.MarshalIndent(pretty, "", "  ")
				fmt.Println(string(out))
				return nil
			}

			var data []map[string]any
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			fmt.Printf("%-32s  %-28s  %s\n", "KEY", "COLLECTED", "VALUE")
			fmt.Printf("%-32s  %-28s  %s\n", "---", "---------", "-----")
			for _, rec := range data {
				key, _ := rec["key"].(string)
				collected, _ := rec["collected_at"].(string)
				value, _ := json.Marshal(rec["value"])
				fmt.Printf("%-32s  %-28s  %s\n", key, collected, value)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&flagJSON, "json", false, "Print raw JSON records")
	return cmd
}
