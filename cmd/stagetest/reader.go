package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/stagecast/stagecast"
	"github.com/stagecast/stagecast/internal/bridge"
)

func newReaderCmd(flags *rootFlags) *cobra.Command {
	side := &sideFlags{}
	cmd := &cobra.Command{
		Use:   "reader",
		Short: "Drive the reader group of a stream through the hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, bridgeCfg, err := side.resolve(false)
			if err != nil {
				return err
			}
			log, err := flags.logger()
			if err != nil {
				return err
			}
			defer log.Sync()

			factory := func() (stagecast.Broker, io.Closer, error) {
				c, err := bridge.Dial(p.Stream, bridgeCfg, log)
				if err != nil {
					return nil, nil, err
				}
				return c, c, nil
			}
			return runReaderSide(cmd.Context(), p, log, factory)
		},
	}
	side.register(cmd)
	return cmd
}
