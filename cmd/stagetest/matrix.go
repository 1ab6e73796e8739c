package main

import (
	"errors"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMatrixCmd(flags *rootFlags) *cobra.Command {
	var paramsPath string
	cmd := &cobra.Command{
		Use:   "matrix",
		Short: "Run a writer/reader pair in-process and verify every element",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadParams(paramsPath)
			if err != nil {
				return err
			}
			log, err := flags.logger()
			if err != nil {
				return err
			}
			defer log.Sync()

			log.Info("matrix run",
				zap.String("stream", p.Stream),
				zap.Int("steps", p.Steps),
				zap.Int("writers", p.Writers.size()),
				zap.Int("readers", p.Readers.size()))

			ctx := cmd.Context()
			opened := make(chan struct{})

			var wg sync.WaitGroup
			var writeErr, readErr error
			wg.Add(2)
			go func() {
				defer wg.Done()
				writeErr = runWriterSide(ctx, p, log, nil, func() { close(opened) })
			}()
			go func() {
				defer wg.Done()
				<-opened
				readErr = runReaderSide(ctx, p, log, nil)
			}()
			wg.Wait()

			if err := errors.Join(writeErr, readErr); err != nil {
				return err
			}
			log.Info("matrix verified",
				zap.Int("steps", p.Steps),
				zap.Int("elements", p.Writers.NPX*p.BlockX*p.Writers.NPY*p.BlockY*p.Steps))
			return nil
		},
	}
	cmd.Flags().StringVar(&paramsPath, "params", "", "YAML run parameters file")
	return cmd
}
