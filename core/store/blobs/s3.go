// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package blobs

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/relabs-tech/melone/core/logger"
)

// S3Configuration holds the configuration for the S3 driver
type S3Configuration struct {
	AWSRegion     string `env:"BLOB_S3_REGION,default=eu-central-1"`
	AWSBucketName string `env:"BLOB_S3_BUCKET,default="`
	KeyPrefix     string `env:"BLOB_S3_KEY_PREFIX,default="`
	AccessID      string `env:"BLOB_S3_ACCESS_ID,default="`
	AccessKey     string `env:"BLOB_S3_ACCESS_KEY,default="`
}

// S3 is the blob driver for AWS S3
type S3 struct {
	config    aws.Config
	bucket    string
	keyPrefix string
}

var _ Driver = (*S3)(nil)

// NewS3 returns a new S3 driver
func NewS3(s3Config S3Configuration) (*S3, error) {
	if s3Config.AWSBucketName == "" {
		return nil, fmt.Errorf("AWSBucketName must not be empty")
	}

	config, err := config.LoadDefaultConfig(
		context.TODO(),
		config.WithRegion(s3Config.AWSRegion),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(s3Config.AccessID, s3Config.AccessKey, "")),
	)
	if err != nil {
		return nil, err
	}
	logger.Default().Debugln("blob S3 driver enabled")
	return &S3{config, s3Config.AWSBucketName, s3Config.KeyPrefix}, nil
}

func (s *S3) Put(ctx context.Context, key string, contentType string, r io.Reader) error {
	uploader := manager.NewUploader(s3.NewFromConfig(s.config))
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.keyPrefix + key),
		Body:        r,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob, %v", err)
	}
	return nil
}

func (s *S3) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	client := s3.NewFromConfig(s.config)
	resp, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyPrefix + key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, "", ErrNoBlob
		}
		return nil, "", err
	}
	contentType := "application/octet-stream"
	if resp.ContentType != nil {
		contentType = *resp.ContentType
	}
	return resp.Body, contentType, nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	client := s3.NewFromConfig(s.config)
	_, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyPrefix + key),
	})
	if err != nil {
		logger.Default().Error("could not delete blob ", s.keyPrefix+key)
	}
	return err
}
