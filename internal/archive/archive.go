// Package archive writes accepted webhook events to S3 as zstd-compressed
// JSON so they can be replayed or inspected later.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"

	"hookrouter/internal/types"
)

// Extension is appended to every archived object key.
const Extension = ".json.zst"

// S3API is the subset of the S3 client used by the archiver.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

var _ S3API = (*s3.Client)(nil)

// Archiver stores events under events/{source}/{yyyy}/{mm}/{dd}/{id}.json.zst.
// A single encoder is shared; EncodeAll is safe for concurrent use.
type Archiver struct {
	client S3API
	bucket string
	enc    *zstd.Encoder
	logger types.Logger
}

// New creates an Archiver for bucket.
func New(client S3API, bucket string, logger types.Logger) (*Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return &Archiver{client: client, bucket: bucket, enc: enc, logger: logger}, nil
}

// Key returns the object key for evt. The source is path-escaped so a
// hostile source name cannot climb out of its prefix.
func Key(evt *types.Event) string {
	t := evt.ReceivedAt.UTC()
	return path.Join(
		"events",
		url.PathEscape(evt.Source),
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", int(t.Month())),
		fmt.Sprintf("%02d", t.Day()),
		url.PathEscape(evt.ID)+Extension,
	)
}

// Encode returns the compressed JSON form of evt.
func (a *Archiver) Encode(evt *types.Event) ([]byte, error) {
	raw, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return a.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// Archive uploads evt and returns the object key.
func (a *Archiver) Archive(ctx context.Context, evt *types.Event) (string, error) {
	body, err := a.Encode(evt)
	if err != nil {
		return "", err
	}
	key := Key(evt)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentLength:   aws.Int64(int64(len(body))),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("zstd"),
		Metadata: map[string]string{
			"source":   evt.Source,
			"event-id": evt.ID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", a.bucket, key, err)
	}
	a.logger.Debug("event archived", "event_id", evt.ID, "key", key, "bytes", len(body))
	return key, nil
}

// Decode reads an archived object back into an Event.
func Decode(r io.Reader) (*types.Event, error) {
	dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	var evt types.Event
	if err := json.NewDecoder(dec).Decode(&evt); err != nil {
		return nil, fmt.Errorf("decode archived event: %w", err)
	}
	return &evt, nil
}
