// SPDX-License-Identifier: MPL-2.0

package pkgstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/charmbracelet/log"
)

type (
	// ObjectAPI is the subset of the S3 client the mirror uses.
	ObjectAPI interface {
		PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
		DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
		ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	}

	// MirrorConfig describes the bucket archives are copied to.
	MirrorConfig struct {
		Bucket    string
		Region    string
		Endpoint  string
		Prefix    string
		PathStyle bool
	}

	// S3Mirror copies every newly stored archive to an S3 bucket and removes
	// it again on delete. The local store stays authoritative: mirror
	// failures are logged and never fail the wrapped operation.
	S3Mirror struct {
		local  Store
		client ObjectAPI
		bucket string
		prefix string
		logger *log.Logger
	}
)

// NewS3Client builds an S3 client from the default AWS credential chain.
func NewS3Client(ctx context.Context, cfg MirrorConfig) (*s3.Client, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("mirror bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.PathStyle
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// NewS3Mirror wraps local with a bucket mirror. A nil logger discards output.
func NewS3Mirror(local Store, client ObjectAPI, cfg MirrorConfig, logger *log.Logger) *S3Mirror {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &S3Mirror{
		local:  local,
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		logger: logger,
	}
}

// Put stores locally and, when something new was written, uploads a copy.
func (m *S3Mirror) Put(ctx context.Context, id, version, ext string, data []byte) (bool, error) {
	stored, err := m.local.Put(ctx, id, version, ext, data)
	if err != nil || !stored {
		return stored, err
	}
	key := m.key(id, version+"."+ext)
	_, putErr := m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/zip"),
		Metadata:      map[string]string{"module-id": id, "module-version": version},
	})
	if putErr != nil {
		m.logger.Warn("archive mirror upload failed", "key", key, "err", putErr)
	} else {
		m.logger.Debug("archive mirrored", "bucket", m.bucket, "key", key)
	}
	return true, nil
}

// Has consults the local store only.
func (m *S3Mirror) Has(ctx context.Context, id, version string) (bool, error) {
	return m.local.Has(ctx, id, version)
}

// Delete removes the local archives and the mirrored objects for id@version.
func (m *S3Mirror) Delete(ctx context.Context, id, version string) error {
	if err := m.local.Delete(ctx, id, version); err != nil {
		return err
	}
	m.deletePrefix(ctx, m.key(id, version+"."))
	return nil
}

// DeleteModule removes every local and mirrored archive for id.
func (m *S3Mirror) DeleteModule(ctx context.Context, id string) error {
	if err := m.local.DeleteModule(ctx, id); err != nil {
		return err
	}
	m.deletePrefix(ctx, m.key(id, ""))
	return nil
}

func (m *S3Mirror) deletePrefix(ctx context.Context, prefix string) {
	var token *string
	for {
		out, err := m.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(m.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: token,
		})
		if err != nil {
			m.logger.Warn("archive mirror listing failed", "prefix", prefix, "err", err)
			return
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if _, err := m.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(m.bucket), Key: obj.Key}); err != nil {
				m.logger.Warn("archive mirror delete failed", "key", key, "err", err)
			}
		}
		if !aws.ToBool(out.IsTruncated) || out.NextContinuationToken == nil {
			return
		}
		token = out.NextContinuationToken
	}
}

// key builds <prefix>/<id>/<name>. A trailing "/" is kept when name is empty.
func (m *S3Mirror) key(id, name string) string {
	k := path.Join(m.prefix, id) + "/"
	return k + name
}
