package s3

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"
	"github.com/tanq16/trawl/internal/utils"
)

const DefaultExpiry = time.Hour

type Options struct {
	// Profile selects a shared AWS config profile; empty uses the default chain.
	Profile string
	// Expiry bounds how long presigned URLs stay valid. It must outlast the batch.
	Expiry time.Duration
}

// Resolve turns s3://bucket/key or s3://bucket/prefix/ into Descriptors with presigned
// HTTPS URLs so objects go through the regular transfer engine. An empty dest derives
// the local name from the key.
func Resolve(ctx context.Context, ref, dest string, opts Options) ([]utils.Descriptor, error) {
	bucket, key, err := ParseS3URL(ref)
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithSharedConfigProfile(opts.Profile),
		config.WithRetryMode(aws.RetryModeAdaptive),
	)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	r := &resolver{
		objects:   client,
		presigner: s3.NewPresignClient(client),
		expiry:    opts.Expiry,
	}
	return r.resolve(ctx, bucket, key, dest)
}

func ParseS3URL(ref string) (bucket, key string, err error) {
	if !strings.HasPrefix(ref, "s3://") {
		return "", "", fmt.Errorf("invalid S3 URL %q: expected s3://bucket/key", ref)
	}
	parts := strings.SplitN(strings.TrimPrefix(ref, "s3://"), "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid S3 URL %q: missing bucket", ref)
	}
	bucket = parts[0]
	if len(parts) > 1 {
		key = parts[1]
	}
	return bucket, key, nil
}

type resolver struct {
	objects   objectAPI
	presigner presignAPI
	expiry    time.Duration
}

func (r *resolver) resolve(ctx context.Context, bucket, key, dest string) ([]utils.Descriptor, error) {
	if key != "" && !strings.HasSuffix(key, "/") {
		_, err := r.objects.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			if dest == "" {
				dest = path.Base(key)
			} else if isDir(dest) {
				dest = filepath.Join(dest, path.Base(key))
			}
			d, err := r.descriptor(ctx, bucket, key, dest)
			if err != nil {
				return nil, err
			}
			log.Debug().Str("op", "s3/initial").Msgf("resolved object s3://%s/%s", bucket, key)
			return []utils.Descriptor{d}, nil
		}
		log.Debug().Str("op", "s3/initial").Err(err).Msgf("s3://%s/%s is not an object, listing as prefix", bucket, key)
	}

	objects, err := listS3Objects(ctx, r.objects, bucket, key)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, fmt.Errorf("no objects found in s3://%s/%s", bucket, key)
	}
	if dest == "" {
		dest = folderName(bucket, key)
	}

	descriptors := make([]utils.Descriptor, 0, len(objects))
	for _, obj := range objects {
		outputPath, ok := relativeDest(dest, key, obj.Key)
		if !ok {
			log.Warn().Str("op", "s3/initial").Str("key", obj.Key).Msg("skipping key that escapes the destination")
			continue
		}
		d, err := r.descriptor(ctx, bucket, obj.Key, outputPath)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}
	log.Info().Str("op", "s3/initial").Int("objects", len(descriptors)).Msgf("resolved prefix s3://%s/%s", bucket, key)
	return descriptors, nil
}

func (r *resolver) descriptor(ctx context.Context, bucket, key, dest string) (utils.Descriptor, error) {
	expiry := r.expiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	req, err := r.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return utils.Descriptor{}, fmt.Errorf("error presigning s3://%s/%s: %w", bucket, key, err)
	}
	return utils.NewDescriptor(req.URL, dest, key)
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
