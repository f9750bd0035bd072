package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"davit/internal/common"
	"davit/internal/pipeline"
)

func newBinariesCommand() *cobra.Command {
	var releaseRef string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "binaries <version>",
		Short: "Publish per-platform binary archives to the release host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			p, err := pipeline.New(cfg, nil)
			if err != nil {
				return err
			}

			results, err := p.PublishBinaries(cmd.Context(), pipeline.Options{
				Version:    args[0],
				ReleaseRef: releaseRef,
				DryRun:     dryRun,
			})
			if err != nil {
				return err
			}

			for _, r := range results {
				if r.OK() {
					log.Info("published", "platform", r.Target, "location", r.Location, "sha256", r.Digest.Encoded())
				} else {
					log.Error("failed", "platform", r.Target, "error", r.Err, "retryable", common.Retryable(r.Err))
				}
			}
			return pipeline.Summarize(results)
		},
	}

	cmd.Flags().StringVar(&releaseRef, "ref", "", "release ref to file binaries under (default refs/tags/<version>)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log the plan without publishing")
	return cmd
}

func init() {
	rootCmd.AddCommand(newBinariesCommand())
}
