package cmd

import (
	"os"

	"github.com/spf13/cobra"
	ghrelease "github.com/tanq16/trawl/internal/downloaders/github-release"
)

func newGHReleaseCmd() *cobra.Command {
	var outputPath string
	var opts ghrelease.Options

	cmd := &cobra.Command{
		Use:     "github-release [USER/REPO or URL] [--output OUTPUT_PATH]",
		Short:   "Download release assets of a GitHub repository",
		Aliases: []string{"ghrelease", "ghr"},
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Token == "" {
				opts.Token = os.Getenv("GITHUB_TOKEN")
			}
			descriptors, err := ghrelease.Resolve(cmd.Context(), args[0], outputPath, opts)
			if err != nil {
				return err
			}
			return runTransfers(cmd.Context(), descriptors)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (a directory with --all)")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "Release tag (latest release if not provided)")
	cmd.Flags().StringVar(&opts.Asset, "asset", "", "Exact asset name to download")
	cmd.Flags().BoolVar(&opts.All, "all", false, "Download every asset except checksums and docs")
	cmd.Flags().StringVar(&opts.Token, "token", "", "GitHub token (defaults to $GITHUB_TOKEN)")
	return cmd
}
