package cmd

import (
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tanq16/trawl/internal/downloaders/s3"
)

func newS3Cmd() *cobra.Command {
	var outputPath string
	var profile string
	var expiry time.Duration

	cmd := &cobra.Command{
		Use:   "s3 [BUCKET/KEY or s3://BUCKET/KEY]",
		Short: "Download files from AWS S3",
		Long: `Download files or folders from AWS S3 through presigned URLs.

Examples:
  trawl s3 mybucket/path/to/file.zip
  trawl s3 s3://mybucket/path/to/folder/
  trawl s3 mybucket/file.zip --profile myprofile`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			descriptors, err := s3.Resolve(cmd.Context(), normalizeS3Ref(args[0]), outputPath, s3.Options{
				Profile: profile,
				Expiry:  expiry,
			})
			if err != nil {
				return err
			}
			return runTransfers(cmd.Context(), descriptors)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output path")
	cmd.Flags().StringVar(&profile, "profile", "", "AWS profile to use")
	cmd.Flags().DurationVar(&expiry, "expiry", s3.DefaultExpiry, "Validity of presigned URLs")
	return cmd
}

func normalizeS3Ref(ref string) string {
	if strings.HasPrefix(ref, "s3://") {
		return ref
	}
	return "s3://" + ref
}
