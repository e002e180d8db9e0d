package rollup

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const contentType = "application/octet-stream"

// ArchiveClient uploads a compressed rollup frame to the external
// content-addressed archive and returns the resulting transaction/object
// identifier.
type ArchiveClient interface {
	Upload(ctx context.Context, data []byte) (archiveTx string, err error)
}

// S3Archive uploads rollup frames to an S3-compatible bucket, keyed by
// the sha256 of the frame contents so repeated uploads of the same
// range are free (spec §4.7: "the archive is content-addressed so
// duplicates are free").
type S3Archive struct {
	client *s3.Client
	bucket string
}

// NewS3Archive builds an S3Archive from the process's default AWS
// config (environment/credentials-file/instance-role resolution),
// pointed at endpointURL when set (for S3-compatible, non-AWS
// archives) and bucket.
func NewS3Archive(ctx context.Context, endpointURL, bucket string) (*S3Archive, error) {
	sdkConfig, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(sdkConfig, func(o *s3.Options) {
		if endpointURL != "" {
			o.BaseEndpoint = aws.String(endpointURL)
		}
		o.UsePathStyle = true
	})
	return &S3Archive{client: client, bucket: bucket}, nil
}

// Upload implements ArchiveClient.
func (a *S3Archive) Upload(ctx context.Context, data []byte) (string, error) {
	sum := sha256.Sum256(data)
	key := hex.EncodeToString(sum[:])

	put := &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	}
	if _, err := a.client.PutObject(ctx, put); err != nil {
		return "", fmt.Errorf("upload rollup frame: %w", err)
	}
	return key, nil
}

// Fetch retrieves a previously uploaded frame by its archive_tx. It is
// for operator tooling; the rollup ticker itself does not call it.
func (a *S3Archive) Fetch(ctx context.Context, archiveTx string) ([]byte, error) {
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(archiveTx),
	})
	if err != nil {
		return nil, fmt.Errorf("fetch rollup frame: %w", err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
