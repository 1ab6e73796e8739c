package main

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/stagecast/stagecast/internal/config"
)

func newStatusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running hub's health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadOrDefault()
			if addr != "" {
				cfg.Bridge.Addr = addr
			}

			client := resty.New().
				SetBaseURL("http://" + cfg.Bridge.Addr).
				SetTimeout(5 * time.Second)

			resp, err := client.R().SetContext(cmd.Context()).Get("/health")
			if err != nil {
				return fmt.Errorf("hub unreachable at %s: %w", cfg.Bridge.Addr, err)
			}
			if resp.IsError() {
				return fmt.Errorf("hub returned %s", resp.Status())
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "hub address (defaults to STAGE_BRIDGE_ADDR)")
	return cmd
}
