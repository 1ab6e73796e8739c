package main

import (
	"github.com/spf13/cobra"

	"github.com/stagecast/stagecast/internal/bridge"
	"github.com/stagecast/stagecast/internal/config"
)

func newHubCmd(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "hub",
		Short: "Run the staging hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadOrDefault()
			if addr != "" {
				cfg.Bridge.Addr = addr
			}
			log, err := flags.logger()
			if err != nil {
				return err
			}
			defer log.Sync()
			return bridge.NewHub(cfg, log).Serve(cfg.Bridge.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to STAGE_BRIDGE_ADDR)")
	return cmd
}
