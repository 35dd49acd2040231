package utils

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"
)

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

func GetRandomUserAgent() string {
	return userAgents[time.Now().UnixNano()%int64(len(userAgents))]
}

// ParseHeaderArgs turns "Name: value" strings into a header map.
func ParseHeaderArgs(headers []string) (map[string]string, error) {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("malformed header %q, expected 'Name: value'", header)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		result[key] = value
	}
	return result, nil
}

// OutputPathFromURL infers a local file name from the last path segment of a URL.
func OutputPathFromURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "download"
	}
	name := path.Base(parsedURL.Path)
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	name = filenameRegex.ReplaceAllString(name, "_")
	if name == "" || name == "." || name == "/" || name == "_" {
		return "download"
	}
	return name
}
