// Package files stores uploaded files in object storage and keeps an
// ownership catalog for them.
package files

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	sserr "github.com/StricklySoft/stricklysoft-fstorage/pkg/errors"
	"github.com/StricklySoft/stricklysoft-fstorage/pkg/models"
)

const tracerName = "github.com/StricklySoft/stricklysoft-fstorage/internal/files"

// DefaultContentType is stored when an upload carries none.
const DefaultContentType = "application/octet-stream"

// ObjectStore is the part of *minio.Client the service writes through.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, object string) error
}

// Upload is one file in an upload request.
type Upload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// Options configures a Service.
type Options struct {
	// Bucket receives every object.
	Bucket string

	// PublicBaseURL prefixes download URLs: <base>/<bucket>/<key>.
	PublicBaseURL string

	// MaxFileBytes rejects larger files with SIZE_001. Zero means no limit.
	MaxFileBytes int64

	Logger *slog.Logger
}

// Service uploads and deletes files on behalf of authenticated callers.
type Service struct {
	store   ObjectStore
	catalog Catalog
	bucket  string
	baseURL *url.URL
	maxSize int64
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewService validates opts. A nil catalog is replaced by NopCatalog.
func NewService(store ObjectStore, catalog Catalog, opts Options) (*Service, error) {
	if store == nil {
		return nil, sserr.New(sserr.CodeInternalConfiguration, "files: object store is required")
	}
	if strings.TrimSpace(opts.Bucket) == "" {
		return nil, sserr.New(sserr.CodeInternalConfiguration, "files: bucket is required")
	}
	base, err := url.Parse(strings.TrimRight(opts.PublicBaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, sserr.Newf(sserr.CodeInternalConfiguration,
			"files: public base URL %q must be absolute", opts.PublicBaseURL)
	}
	if catalog == nil {
		catalog = NopCatalog{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   store,
		catalog: catalog,
		bucket:  opts.Bucket,
		baseURL: base,
		maxSize: opts.MaxFileBytes,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

// Bucket returns the target bucket.
func (s *Service) Bucket() string {
	return s.bucket
}

// ObjectURL returns the download URL of key.
func (s *Service) ObjectURL(key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.baseURL.String() + "/" + url.PathEscape(s.bucket) + "/" + strings.Join(segments, "/")
}

// Upload stores every file under domain for owner and returns them in
// request order. Nothing is stored if any file fails validation or exceeds
// the size limit. If a write or the catalog insert fails, objects already
// written by this call are removed and an INT_001 error is returned.
func (s *Service) Upload(ctx context.Context, owner, domain string, uploads []Upload) (_ []models.UploadedFile, err error) {
	ctx, span := s.tracer.Start(ctx, "files.Upload", trace.WithAttributes(
		attribute.String("files.domain", domain),
		attribute.Int("files.count", len(uploads)),
	))
	defer func() { finishSpan(span, err) }()

	if len(uploads) == 0 {
		return nil, sserr.New(sserr.CodeValidation, "files: at least one file is required")
	}
	if err := models.ValidateDomain(domain); err != nil {
		return nil, sserr.Wrap(err, sserr.CodeValidation, "files: invalid domain")
	}

	records := make([]*models.StoredFile, len(uploads))
	for i, u := range uploads {
		if s.maxSize > 0 && u.Size > s.maxSize {
			return nil, sserr.Newf(sserr.CodePayloadTooLarge,
				"files: file %d is %d bytes, limit is %d", i, u.Size, s.maxSize).
				WithDetail("limit", s.maxSize)
		}
		ct := u.ContentType
		if ct == "" {
			ct = DefaultContentType
		}
		f, err := models.NewStoredFile(owner, domain, u.Name, ct, u.Size)
		if err != nil {
			return nil, sserr.Wrapf(err, sserr.CodeValidation, "files: invalid file %d", i)
		}
		f.URL = s.ObjectURL(f.Key)
		records[i] = f
	}

	stored := make([]string, 0, len(records))
	for i, f := range records {
		_, err := s.store.PutObject(ctx, s.bucket, f.Key, uploads[i].Body, f.Size,
			minio.PutObjectOptions{
				ContentType:  f.ContentType,
				UserMetadata: map[string]string{"owner": owner, "name": url.QueryEscape(f.Name)},
			})
		if err != nil {
			s.rollback(ctx, stored)
			return nil, sserr.Wrapf(err, sserr.CodeInternal, "files: failed to store %q", f.Name)
		}
		stored = append(stored, f.Key)
	}

	if err := s.catalog.Record(ctx, records); err != nil {
		s.rollback(ctx, stored)
		return nil, sserr.Wrap(err, sserr.CodeInternal, "files: failed to record uploads")
	}

	out := make([]models.UploadedFile, len(records))
	for i, f := range records {
		out[i] = f.Upload()
	}
	s.logger.InfoContext(ctx, "files: uploaded",
		"user_id", owner,
		"domain", domain,
		"bucket", s.bucket,
		"count", len(out),
	)
	return out, nil
}

// rollback removes objects written by a failed upload. It runs on a
// context that survives cancellation of the request.
func (s *Service) rollback(ctx context.Context, keys []string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := s.store.RemoveObject(ctx, s.bucket, key); err != nil {
			s.logger.WarnContext(ctx, "files: rollback failed to remove object",
				"bucket", s.bucket,
				"object", key,
				"error", err,
			)
		}
	}
}

// Delete removes the files identified by ids that owner owns. Ids owned by
// someone else, or unknown to the catalog, are skipped. Removal is attempted
// for every owned id; catalog rows are dropped only for objects that were
// removed.
func (s *Service) Delete(ctx context.Context, owner string, ids []string) (err error) {
	ctx, span := s.tracer.Start(ctx, "files.Delete", trace.WithAttributes(
		attribute.Int("files.count", len(ids)),
	))
	defer func() { finishSpan(span, err) }()

	keys := dedupe(ids)
	if len(keys) == 0 {
		return sserr.New(sserr.CodeValidation, "files: file ids are required")
	}

	owned, err := s.catalog.Owned(ctx, owner, keys)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeInternal, "files: failed to look up file owners")
	}
	if skipped := len(keys) - len(owned); skipped > 0 {
		s.logger.WarnContext(ctx, "files: skipping ids not owned by caller",
			"user_id", owner,
			"count", skipped,
		)
	}

	var removed []string
	var errs []error
	for _, key := range owned {
		if err := s.store.RemoveObject(ctx, s.bucket, key); err != nil {
			errs = append(errs, err)
			continue
		}
		removed = append(removed, key)
	}

	if _, err := s.catalog.Delete(ctx, owner, removed); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return sserr.Wrap(errors.Join(errs...), sserr.CodeInternal, "files: failed to delete files")
	}

	s.logger.InfoContext(ctx, "files: deleted",
		"user_id", owner,
		"bucket", s.bucket,
		"count", len(removed),
	)
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
