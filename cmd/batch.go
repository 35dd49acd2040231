package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	ghrelease "github.com/tanq16/trawl/internal/downloaders/github-release"
	"github.com/tanq16/trawl/internal/downloaders/s3"
	"github.com/tanq16/trawl/internal/utils"
	"gopkg.in/yaml.v3"
)

type BatchFile map[string][]utils.BatchEntry

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [YAML_FILE] [OPTIONS]",
		Short: "Process multiple downloads from a YAML file",
		Long: `Process multiple downloads from a YAML file grouped by source type.

Example file:
  http:
    - link: https://example.com/file.zip
      op: downloads/file.zip
  s3:
    - link: mybucket/path/to/file
  github-release:
    - link: tanq16/trawl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchFile, err := readBatchFile(args[0])
			if err != nil {
				return err
			}
			descriptors, err := resolveBatch(cmd.Context(), batchFile)
			if err != nil {
				return err
			}
			return runTransfers(cmd.Context(), descriptors)
		},
	}
	return cmd
}

func readBatchFile(path string) (BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading YAML file: %w", err)
	}
	var batchFile BatchFile
	if err := yaml.Unmarshal(data, &batchFile); err != nil {
		return nil, fmt.Errorf("error parsing YAML file: %w", err)
	}
	return batchFile, nil
}

// resolveBatch expands every entry into descriptors. Sections are visited in sorted
// order so the resulting batch order is stable.
func resolveBatch(ctx context.Context, batchFile BatchFile) ([]utils.Descriptor, error) {
	logger := utils.GetLogger("batch")
	types := make([]string, 0, len(batchFile))
	for jobType := range batchFile {
		types = append(types, jobType)
	}
	sort.Strings(types)

	var descriptors []utils.Descriptor
	for _, jobType := range types {
		normalizedType := normalizeJobType(jobType)
		if normalizedType == "" {
			return nil, fmt.Errorf("unknown job type %q", jobType)
		}
		for _, entry := range batchFile[jobType] {
			if entry.Link == "" {
				logger.Warn().Str("type", jobType).Msg("empty link, skipping entry")
				continue
			}
			var resolved []utils.Descriptor
			var err error
			switch normalizedType {
			case "http":
				dest := entry.OutputPath
				if dest == "" {
					dest = utils.OutputPathFromURL(entry.Link)
				}
				var d utils.Descriptor
				d, err = utils.NewDescriptor(entry.Link, dest, entry.Name)
				resolved = []utils.Descriptor{d}
			case "s3":
				resolved, err = s3.Resolve(ctx, normalizeS3Ref(entry.Link), entry.OutputPath, s3.Options{})
			case "github-release":
				resolved, err = ghrelease.Resolve(ctx, entry.Link, entry.OutputPath, ghrelease.Options{
					Token: os.Getenv("GITHUB_TOKEN"),
				})
			}
			if err != nil {
				return nil, fmt.Errorf("%s entry %s: %w", jobType, entry.Link, err)
			}
			descriptors = append(descriptors, resolved...)
		}
	}
	logger.Debug().Int("transfers", len(descriptors)).Msg("batch resolved")
	return descriptors, nil
}

func normalizeJobType(jobType string) string {
	switch strings.ToLower(jobType) {
	case "http", "https":
		return "http"
	case "s3":
		return "s3"
	case "ghrelease", "github-release", "ghr", "github", "gh-release":
		return "github-release"
	default:
		return ""
	}
}
