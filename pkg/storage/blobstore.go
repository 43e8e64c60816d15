package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/novaex/novaex/pkg/candle"
)

// S3BlobStore archives hourly candle batches as one object per
// (symbol, hour) under candles/<interval>/<symbol>/<YYYYMMDDHH>.json.
type S3BlobStore struct {
	client *s3.Client
	bucket string
}

func NewS3BlobStore(ctx context.Context, bucket, region string) (*S3BlobStore, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3BlobStore{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

// PutCandles writes a complete hour of candles, ascending time order, as a
// single JSON array object.
func (s *S3BlobStore) PutCandles(ctx context.Context, symbol, interval string, candles []candle.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	hour := candles[0].Time[:10]
	key := fmt.Sprintf("candles/%s/%s/%s.json", interval, symbol, hour)

	body, err := json.Marshal(candles)
	if err != nil {
		return fmt.Errorf("marshal candle batch: %w", err)
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
