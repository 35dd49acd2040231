package ghrelease

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/trawl/internal/utils"
	"golang.org/x/oauth2"
)

const DefaultAPIBase = "https://api.github.com"

type Options struct {
	// Token authenticates API calls, raising rate limits and reaching private repos.
	Token string
	// Tag picks a release by tag instead of the latest one.
	Tag string
	// Asset picks one asset by exact name.
	Asset string
	// All selects every asset that is not a checksum or readme.
	All        bool
	APIBase    string
	HTTPClient *http.Client
}

type Release struct {
	TagName string  `json:"tag_name"`
	Name    string  `json:"name"`
	Assets  []Asset `json:"assets"`
}

type Asset struct {
	Name               string `json:"name"`
	Size               int64  `json:"size"`
	ContentType        string `json:"content_type"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Resolve looks up a release of owner/repo and returns one Descriptor per selected asset.
// With several assets dest is a directory; with one it is the file path unless it
// names an existing directory.
func Resolve(ctx context.Context, repoRef, dest string, opts Options) ([]utils.Descriptor, error) {
	owner, repo, err := parseGitHubURL(repoRef)
	if err != nil {
		return nil, err
	}
	release, err := fetchRelease(ctx, apiClient(ctx, opts), opts.APIBase, owner, repo, opts.Tag)
	if err != nil {
		return nil, err
	}
	platformKey := runtime.GOOS + runtime.GOARCH
	assets, err := selectAssets(release.Assets, opts, platformKey)
	if err != nil {
		return nil, fmt.Errorf("%s/%s %s: %w", owner, repo, release.TagName, err)
	}
	log.Info().Str("op", "ghrelease/initial").Str("repo", owner+"/"+repo).Str("tag", release.TagName).
		Int("assets", len(assets)).Msg("release resolved")

	descriptors := make([]utils.Descriptor, 0, len(assets))
	for _, asset := range assets {
		outputPath := assetDestination(dest, asset.Name, len(assets) > 1)
		d, err := utils.NewDescriptor(asset.BrowserDownloadURL, outputPath, fmt.Sprintf("%s@%s", asset.Name, release.TagName))
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

func apiClient(ctx context.Context, opts Options) *http.Client {
	base := opts.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	if opts.Token == "" {
		return base
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	return oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}))
}

func fetchRelease(ctx context.Context, client *http.Client, apiBase, owner, repo, tag string) (*Release, error) {
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	apiURL := fmt.Sprintf("%s/repos/%s/%s/releases/latest", strings.TrimSuffix(apiBase, "/"), owner, repo)
	if tag != "" {
		apiURL = fmt.Sprintf("%s/repos/%s/%s/releases/tags/%s", strings.TrimSuffix(apiBase, "/"), owner, repo, url.PathEscape(tag))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating API request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", utils.ToolUserAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error making API request: %w", err)
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("release not found for %s/%s", owner, repo)
	default:
		return nil, fmt.Errorf("API request failed: %w", &utils.StatusError{StatusCode: resp.StatusCode, Status: resp.Status})
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil, fmt.Errorf("error decoding API response: %w", err)
	}
	if len(release.Assets) == 0 {
		return nil, fmt.Errorf("no assets found in release %s", release.TagName)
	}
	log.Debug().Str("op", "ghrelease/initial").Str("tag", release.TagName).Int("assets", len(release.Assets)).Msg("fetched release")
	return &release, nil
}

func assetDestination(dest, name string, multiple bool) string {
	if dest == "" {
		return name
	}
	if multiple {
		return filepath.Join(dest, name)
	}
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		return filepath.Join(dest, name)
	}
	return dest
}
