// Package minio wraps minio-go with OpenTelemetry spans and sserr error
// classification. fstorage stores uploaded files through it.
//
// # Usage
//
//	cfg := minio.DefaultConfig()
//	cfg.AccessKey = "fstorage"
//	cfg.SecretKey = minio.Secret(os.Getenv("MINIO_SECRET_KEY"))
//	client, err := minio.NewClient(ctx, *cfg)
//	if err != nil {
//	    return err
//	}
//	if err := client.EnsureBucket(ctx, "fstorage"); err != nil {
//	    return err
//	}
//
// Tests inject a fake [ObjectStore] with [NewFromStore].
//
// # Tracing
//
// Every call opens a client span named "minio.<Operation>" carrying
// db.system, db.name (the bucket) and a truncated db.statement.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-fstorage/pkg/errors"
)

const tracerName = "github.com/StricklySoft/stricklysoft-fstorage/pkg/clients/minio"

// ObjectStore is the subset of [*minio.Client] used by fstorage. Signatures
// match minio-go exactly.
type ObjectStore interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
}

var _ ObjectStore = (*minio.Client)(nil)

// Client is safe for concurrent use. Create one per endpoint.
type Client struct {
	store  ObjectStore
	config *Config
	tracer trace.Tracer
}

// NewClient validates cfg, builds the minio-go client and probes the server
// with BucketExists.
//
// Error codes: VAL_001 for invalid config, INT_002 if the client cannot be
// built, UNAVAIL_002 if the server is unreachable.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "minio: invalid configuration")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey.Value(), ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, sserr.Wrap(err, sserr.CodeInternalStorage, "minio: failed to create client")
	}

	if _, err := mc.BucketExists(ctx, cfg.healthBucket()); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: failed to connect to server")
	}
	return NewFromStore(mc, &cfg), nil
}

// NewFromStore wraps an existing store without validation. cfg may be nil.
func NewFromStore(store ObjectStore, cfg *Config) *Client {
	if cfg == nil {
		cfg = &Config{}
	}
	return &Client{
		store:  store,
		config: cfg,
		tracer: otel.Tracer(tracerName),
	}
}

// Config returns the client's configuration.
func (c *Client) Config() Config {
	return *c.config
}

// PutObject uploads size bytes from reader. A size of -1 streams until EOF.
func (c *Client) PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	ctx, span := c.startSpan(ctx, "PutObject", bucket, fmt.Sprintf("PUT %s/%s", bucket, object))
	span.SetAttributes(attribute.Int64("minio.object.size", size))

	info, err := c.store.PutObject(ctx, bucket, object, reader, size, opts)
	finishSpan(span, err)
	if err != nil {
		return info, wrapError(err, "minio: put object failed")
	}
	return info, nil
}

// RemoveObject deletes an object. Removing a missing object is not an error.
func (c *Client) RemoveObject(ctx context.Context, bucket, object string) error {
	ctx, span := c.startSpan(ctx, "RemoveObject", bucket, fmt.Sprintf("DELETE %s/%s", bucket, object))

	err := c.store.RemoveObject(ctx, bucket, object, minio.RemoveObjectOptions{})
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: remove object failed")
	}
	return nil
}

// BucketExists reports whether bucket exists.
func (c *Client) BucketExists(ctx context.Context, bucket string) (bool, error) {
	ctx, span := c.startSpan(ctx, "BucketExists", bucket, "HEAD "+bucket)

	exists, err := c.store.BucketExists(ctx, bucket)
	finishSpan(span, err)
	if err != nil {
		return false, wrapError(err, "minio: bucket exists check failed")
	}
	return exists, nil
}

// EnsureBucket creates bucket in the configured region unless it exists.
// Losing a creation race to another replica counts as success.
func (c *Client) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := c.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	ctx, span := c.startSpan(ctx, "MakeBucket", bucket, "MAKE "+bucket)
	err = c.store.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: c.config.Region})
	if err != nil {
		switch minio.ToErrorResponse(err).Code {
		case "BucketAlreadyOwnedByYou", "BucketAlreadyExists":
			err = nil
		}
	}
	finishSpan(span, err)
	if err != nil {
		return wrapError(err, "minio: make bucket failed")
	}
	return nil
}

// Health probes the server with BucketExists, applying
// DefaultHealthTimeout when ctx has no deadline.
func (c *Client) Health(ctx context.Context) error {
	bucket := c.config.healthBucket()
	ctx, span := c.startSpan(ctx, "Health", bucket, "HEAD "+bucket)
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultHealthTimeout)
		defer cancel()
	}

	_, err := c.store.BucketExists(ctx, bucket)
	finishSpan(span, err)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeUnavailableDependency, "minio: health check failed")
	}
	return nil
}

// Close is a no-op; minio-go holds no persistent connections that need
// releasing. It exists so all clients share a shutdown shape.
func (c *Client) Close() error {
	return nil
}

func (c *Config) healthBucket() string {
	if c.HealthBucket != "" {
		return c.HealthBucket
	}
	return healthProbeBucket
}

func (c *Client) startSpan(ctx context.Context, operation, bucket, statement string) (context.Context, trace.Span) {
	ctx, span := c.tracer.Start(ctx, "minio."+operation, trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("db.system", "minio"),
		attribute.String("db.name", bucket),
		attribute.String("db.statement", truncateStatement(statement)),
	)
	return ctx, span
}

// finishSpan records err, sets the status and ends the span.
func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// wrapError maps deadline errors to TIMEOUT_001 and everything else to
// INT_002. Cancellation is not retryable, so it is INT_002 too.
func wrapError(err error, message string) *sserr.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return sserr.Wrap(err, sserr.CodeTimeout, message)
	}
	return sserr.Wrap(err, sserr.CodeInternalStorage, message)
}
