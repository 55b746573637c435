package source

import (
	"context"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
)

// S3 treats dir as a key prefix within a single bucket. Shards staged on S3
// ahead of (or instead of) local disk are read straight through without a
// local-disk round trip; deletion and free-space accounting are not
// meaningful for object storage so Remove is a no-op and FreeBytes reports
// Unbounded — the custodian (spec §4.4) only ever reclaims local disk.
type S3 struct {
	bucket string
	client *s3.Client
}

func NewS3(bucket string) (*S3, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return nil, errors.Wrap(err, "source: load aws config")
	}
	return &S3{bucket: bucket, client: s3.NewFromConfig(cfg)}, nil
}

func (s *S3) key(dir, name string) string {
	return strings.TrimPrefix(strings.TrimSuffix(dir, "/")+"/"+name, "/")
}

func (s *S3) List(ctx context.Context, dir string) ([]ShardInfo, error) {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	var out []ShardInfo
	var token *string
	for {
		resp, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "source: list s3://%s/%s", s.bucket, prefix)
		}
		for _, obj := range resp.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" || !strings.HasSuffix(name, ".gz") || strings.Contains(name, "/") {
				continue
			}
			out = append(out, ShardInfo{Name: name, Size: aws.ToInt64(obj.Size)})
		}
		if !aws.ToBool(resp.IsTruncated) {
			break
		}
		token = resp.NextContinuationToken
	}
	return out, nil
}

func (s *S3) Open(ctx context.Context, dir, name string) (io.ReadCloser, error) {
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(dir, name)),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "source: get s3://%s/%s", s.bucket, s.key(dir, name))
	}
	return resp.Body, nil
}

func (s *S3) Remove(context.Context, string, string) error { return nil }

func (s *S3) FreeBytes(context.Context, string) (uint64, error) { return Unbounded, nil }

func (*S3) Deletable() bool { return false }
