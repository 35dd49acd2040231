package s3

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type objectAPI interface {
	s3.HeadObjectAPIClient
	s3.ListObjectsV2APIClient
}

type presignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

type s3Object struct {
	Key  string
	Size int64
}

func listS3Objects(ctx context.Context, client s3.ListObjectsV2APIClient, bucket, prefix string) ([]s3Object, error) {
	var objects []s3Object
	paginator := s3.NewListObjectsV2Paginator(client, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("error listing objects: %w", err)
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			size := aws.ToInt64(obj.Size)
			// Skip directories (0-byte objects ending with /)
			if size == 0 && strings.HasSuffix(*obj.Key, "/") {
				continue
			}
			objects = append(objects, s3Object{Key: *obj.Key, Size: size})
		}
	}
	return objects, nil
}

func folderName(bucket, prefix string) string {
	name := path.Base(strings.TrimSuffix(prefix, "/"))
	if name == "" || name == "." || name == "/" {
		return bucket
	}
	return name
}

// relativeDest maps an object key under prefix to a path inside dest. Keys that would
// land outside dest are rejected.
func relativeDest(dest, prefix, key string) (string, bool) {
	rel := strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
	if rel == "" {
		rel = path.Base(key)
	}
	outputPath := filepath.Join(dest, filepath.FromSlash(rel))
	within, err := filepath.Rel(filepath.Clean(dest), outputPath)
	if err != nil || within == "." || within == ".." || strings.HasPrefix(within, ".."+string(filepath.Separator)) {
		return "", false
	}
	return outputPath, true
}
