package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/tanq16/trawl/internal/utils"
)

func newHTTPCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "http [URL...] [--output OUTPUT_PATH]",
		Short: "Download files via HTTP/HTTPS",
		Long: `Download one or more files via HTTP/HTTPS.

With a single URL --output is the file path; with several it is a directory.

Examples:
  trawl http https://example.com/file.iso
  trawl http https://example.com/a.zip https://example.com/b.zip -o downloads/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			descriptors, err := httpDescriptors(args, outputPath)
			if err != nil {
				return err
			}
			return runTransfers(cmd.Context(), descriptors)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (inferred from the URL if not provided)")
	return cmd
}

func httpDescriptors(urls []string, outputPath string) ([]utils.Descriptor, error) {
	descriptors := make([]utils.Descriptor, 0, len(urls))
	for _, link := range urls {
		dest := outputPath
		if dest == "" {
			dest = utils.OutputPathFromURL(link)
		} else if len(urls) > 1 {
			dest = filepath.Join(outputPath, utils.OutputPathFromURL(link))
		}
		d, err := utils.NewDescriptor(link, dest, "")
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}
