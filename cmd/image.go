package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"davit/internal/common"
	"davit/internal/pipeline"
	"davit/pkg/docker"
)

func newImageCommand() *cobra.Command {
	var isDefaultBranch bool
	var revision string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "image <version>",
		Short: "Assemble and push the runtime container image",
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

			result, err := p.PublishImage(cmd.Context(), pipeline.Options{
				Version:         args[0],
				IsDefaultBranch: isDefaultBranch,
				Revision:        revision,
				DryRun:          dryRun,
			})
			if err != nil {
				return err
			}
			if !result.OK() {
				log.Error("failed", "image", result.Target, "error", result.Err, "retryable", common.Retryable(result.Err))
				return result.Err
			}

			log.Info("published", "image", result.Location)
			return nil
		},
	}

	cmd.Flags().BoolVar(&isDefaultBranch, "default-branch", false, "the run originates from the default branch (enables the latest tag)")
	cmd.Flags().StringVar(&revision, "revision", "", "source revision recorded in image labels")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "log the plan without publishing")
	_ = cmd.MarkFlagRequired("revision")
	return cmd
}

func init() {
	rootCmd.AddCommand(newImageCommand())
}
