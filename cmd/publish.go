package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"davit/internal/common"
	"davit/internal/pipeline"
	"davit/pkg/docker"
)

func newPublishCommand() *cobra.Command {
	var releaseRef string
	var isDefaultBranch bool
	var revision string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "publish <version>",
		Short: "Publish binaries and the container image in one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			engine, err := docker.NewClient()
			if err != nil {
				return err
			}
			defer engine.Close()

			p, err := pipeline.New(cfg, engine)
			if err != nil {
				return err
			}

			results, err := p.Run(cmd.Context(), pipeline.Options{
				Version:         args[0],
				ReleaseRef:      releaseRef,
				IsDefaultBranch: isDefaultBranch,
				Revision:        revision,
				DryRun:          dryRun,
			})
			if err != nil {
				return err
			}

			for _, r := range results {
				if r.OK() {
					log.Info("published", "kind", string(r.Kind), "target", r.Target, "location", r.Location)
				} else {
					log.Error("failed", "kind", string(r.Kind), "target", r.Target, "error", r.Err, "retryable", common.Retryable(r.Err))
				}
			}
			return pipeline.Summarize(results)
		},
	}

	cmd.Flags().StringVar(&releaseRef, "ref", "", "release ref to file binaries under (default refs/tags/<version>)")
	cmd.Flags().BoolVar(&isDefaultBranch, "default-branch", false, "the run originates from the default branch (enables the latest tag)")
	cmd.Flags().StringVar(&revision, "revision", "", "source revision recorded in image labels")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log the plan without publishing")
	_ = cmd.MarkFlagRequired("revision")
	return cmd
}

func init() {
	rootCmd.AddCommand(newPublishCommand())
}
