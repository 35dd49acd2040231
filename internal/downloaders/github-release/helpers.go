package ghrelease

import (
	"fmt"
	"regexp"
	"strings"
)

var assetSelectMap = map[string][]string{
	"linuxamd64":   {"linux-amd64", "linux_amd64", "linux-x86_64", "linux-x86-64", "linux_x86_64", "linux_x86-64", "amd64-linux", "x86_64-linux", "x86-64-linux", "amd64_linux", "x86_64_linux", "x86-64_linux"},
	"linuxarm64":   {"linux-arm64", "linux_arm64", "linux-aarch64", "linux_aarch64", "arm64-linux", "aarch64-linux", "arm64_linux", "aarch64_linux"},
	"windowsamd64": {"windows-amd64", "windows_amd64", "windows-x86_64", "windows-x86-64", "windows_x86_64", "windows_x86-64", "amd64-windows", "x86_64-windows", "x86-64-windows", "amd64_windows", "x86_64_windows", "x86-64_windows"},
	"windowsarm64": {"windows-arm64", "windows_arm64", "windows-aarch64", "windows_aarch64", "arm64-windows", "aarch64-windows", "arm64_windows", "aarch64_windows"},
	"darwinamd64":  {"darwin-amd64", "darwin_amd64", "darwin-x86_64", "darwin-x86-64", "darwin_x86_64", "darwin_x86-64", "amd64-darwin", "x86_64-darwin", "x86-64-darwin", "amd64_darwin", "x86_64_darwin", "x86-64_darwin"},
	"darwinarm64":  {"darwin-arm64", "darwin_arm64", "darwin-aarch64", "darwin_aarch64", "arm64-darwin", "aarch64-darwin", "arm64_darwin", "aarch64_darwin"},
}

// assetSelectMapFallback lists loose hints; the first entry names the OS and must match.
var assetSelectMapFallback = map[string][]string{
	"linuxamd64":   {"linux", "gnu", "x86-64", "x86_64", "amd64", "amd"},
	"linuxarm64":   {"linux", "gnu", "arm", "arm64", "aarch64"},
	"windowsamd64": {"windows", "exe", "x86-64", "x86_64", "amd64", "amd"},
	"windowsarm64": {"windows", "exe", "arm", "arm64", "aarch64"},
	"darwinamd64":  {"darwin", "apple", "macos", "x86-64", "x86_64", "amd64", "amd"},
	"darwinarm64":  {"darwin", "apple", "macos", "arm", "arm64", "aarch64"},
}

var repoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^https?://github\.com/([^/]+)/([^/]+)/?.*$`),
	regexp.MustCompile(`^github\.com/([^/]+)/([^/]+)/?.*$`),
	regexp.MustCompile(`^([^/]+)/([^/]+)$`),
}

var ignoredAssets = []string{
	"license", "readme", "changelog", "checksums", "sha256checksum", ".sha256", ".sig", ".pem", "sbom",
}

func parseGitHubURL(ref string) (string, string, error) {
	ref = strings.TrimSuffix(strings.TrimSpace(ref), "/")
	for _, pattern := range repoPatterns {
		matches := pattern.FindStringSubmatch(ref)
		if len(matches) >= 3 {
			return matches[1], strings.TrimSuffix(matches[2], ".git"), nil
		}
	}
	return "", "", fmt.Errorf("invalid GitHub repository format: %s", ref)
}

func isIgnored(name string) bool {
	lower := strings.ToLower(name)
	for _, ignored := range ignoredAssets {
		if strings.Contains(lower, ignored) {
			return true
		}
	}
	return false
}

func selectAssets(assets []Asset, opts Options, platformKey string) ([]Asset, error) {
	if opts.Asset != "" {
		for _, asset := range assets {
			if strings.EqualFold(asset.Name, opts.Asset) {
				return []Asset{asset}, nil
			}
		}
		return nil, fmt.Errorf("asset %q not found, available: %s", opts.Asset, assetNames(assets))
	}

	var candidates []Asset
	for _, asset := range assets {
		if !isIgnored(asset.Name) {
			candidates = append(candidates, asset)
		}
	}
	if opts.All {
		if len(candidates) == 0 {
			return nil, fmt.Errorf("no downloadable assets")
		}
		return candidates, nil
	}

	for _, asset := range candidates {
		lower := strings.ToLower(asset.Name)
		for _, key := range assetSelectMap[platformKey] {
			if strings.Contains(lower, key) {
				return []Asset{asset}, nil
			}
		}
	}
	if asset, ok := bestFallbackMatch(candidates, platformKey); ok {
		return []Asset{asset}, nil
	}
	return nil, fmt.Errorf("could not select an asset for platform %s, use --asset or --all (available: %s)", platformKey, assetNames(assets))
}

// bestFallbackMatch scores assets by fallback hints. An asset needs the OS hint plus at
// least one more hint to qualify; ties keep release order.
func bestFallbackMatch(assets []Asset, platformKey string) (Asset, bool) {
	hints := assetSelectMapFallback[platformKey]
	if len(hints) == 0 {
		return Asset{}, false
	}
	var best Asset
	bestScore := 0
	for _, asset := range assets {
		lower := strings.ToLower(asset.Name)
		if !strings.Contains(lower, hints[0]) {
			continue
		}
		score := 0
		for _, hint := range hints {
			if strings.Contains(lower, hint) {
				score++
			}
		}
		if score >= 2 && score > bestScore {
			best, bestScore = asset, score
		}
	}
	return best, bestScore > 0
}

func assetNames(assets []Asset) string {
	names := make([]string, 0, len(assets))
	for _, asset := range assets {
		names = append(names, asset.Name)
	}
	return strings.Join(names, ", ")
}
