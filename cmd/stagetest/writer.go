package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/stagecast/stagecast"
	"github.com/stagecast/stagecast/internal/bridge"
	"github.com/stagecast/stagecast/internal/config"
)

type sideFlags struct {
	params string
	stream string
	hub    string
	steps  int
	npx    int
	npy    int
	rate   float64
}

func (f *sideFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.params, "params", "", "YAML run parameters file")
	cmd.Flags().StringVar(&f.stream, "stream", "", "stream name (overrides params)")
	cmd.Flags().StringVar(&f.hub, "hub", "", "hub address (defaults to STAGE_BRIDGE_ADDR)")
	cmd.Flags().IntVar(&f.steps, "steps", 0, "number of steps (overrides params)")
	cmd.Flags().IntVar(&f.npx, "npx", 0, "grid width (overrides params)")
	cmd.Flags().IntVar(&f.npy, "npy", 0, "grid height (overrides params)")
	cmd.Flags().Float64Var(&f.rate, "rate", 0, "steps per second per rank, 0 is unpaced")
}

// resolve merges the YAML file with command-line overrides for one
// side of the pair.
func (f *sideFlags) resolve(writerSide bool) (runParams, config.BridgeConfig, error) {
	p, err := loadParams(f.params)
	if err != nil {
		return p, config.BridgeConfig{}, err
	}
	if f.stream != "" {
		p.Stream = f.stream
	}
	if f.steps > 0 {
		p.Steps = f.steps
	}
	if f.rate > 0 {
		p.Rate = f.rate
	}
	side := &p.Readers
	if writerSide {
		side = &p.Writers
	}
	if f.npx > 0 {
		side.NPX = f.npx
	}
	if f.npy > 0 {
		side.NPY = f.npy
	}

	cfg := config.LoadOrDefault()
	if f.hub != "" {
		cfg.Bridge.Addr = f.hub
	}
	return p, cfg.Bridge, p.validate()
}

func newWriterCmd(flags *rootFlags) *cobra.Command {
	side := &sideFlags{}
	cmd := &cobra.Command{
		Use:   "writer",
		Short: "Drive the writer group of a stream through the hub",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, bridgeCfg, err := side.resolve(true)
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
			return runWriterSide(cmd.Context(), p, log, factory, nil)
		},
	}
	side.register(cmd)
	return cmd
}
