package cli

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func newCollectorsCmd() *cobra.Command {
	var flagGroup string

	cmd := &cobra.Command{
		Use:   "collectors",
		Short: "List registered collectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/v1/collectors/"
			if flagGroup != "" {
				path += "?group=" + url.QueryEscape(flagGroup)
			}
			resp, err := client.Get(path)
			if err != nil {
				return fmt.Errorf("list collectors: %w", err)
			}

			var data []map[string]any
			if err := json.Unmarshal(resp.Data, &data); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			if len(data) == 0 {
				fmt.Println("No collectors registered.")
				return nil
			}

			fmt.Printf("%-8s  %-24s  %-10s  %s\n", "HANDLE", "NAME", "STATE", "GROUP")
			fmt.Printf("%-8s  %-24s  %-10s  %s\n", "------", "----", "-----", "-----")
			for _, c := range data {
				handle, _ := c["handle"].(float64)
				name, _ := c["name"].(string)
				state, _ := c["state"].(string)
				group, _ := c["group"].(string)
				fmt.Printf("%-8d  %-24s  %-10s  %s\n", uint64(handle), name, state, group)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagGroup, "group", "", "Only show collectors of this group UUID")
	return cmd
}

func newRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <handle>",
		Short: "Unregister a collector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.Delete("/api/v1/collectors/" + args[0]); err != nil {
				return fmt.Errorf("remove collector %s: %w", args[0], err)
			}
			fmt.Printf("Collector %s removed.\n", args[0])
			return nil
		},
	}
}
