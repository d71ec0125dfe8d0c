//go:build integration

package minio_test

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/StricklySoft/stricklysoft-fstorage/internal/testutil/containers"
	"github.com/StricklySoft/stricklysoft-fstorage/pkg/clients/minio"
)

const testBucket = "fstorage-it"

// MinIOIntegrationSuite runs against one MinIO container.
type MinIOIntegrationSuite struct {
	suite.Suite

	ctx    context.Context
	result *containers.MinIOResult
	client *minio.Client
}

func (s *MinIOIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	result, err := containers.StartMinIO(s.ctx)
	require.NoError(s.T(), err, "failed to start MinIO container")
	s.result = result

	client, err := minio.NewClient(s.ctx, minio.Config{
		Endpoint:  result.Endpoint,
		AccessKey: result.AccessKey,
		SecretKey: minio.Secret(result.SecretKey),
	})
	require.NoError(s.T(), err, "failed to create MinIO client")
	s.client = client

	require.NoError(s.T(), s.client.EnsureBucket(s.ctx, testBucket))
}

func (s *MinIOIntegrationSuite) TearDownSuite() {
	if s.result != nil {
		_ = s.result.Container.Terminate(s.ctx)
	}
}

func (s *MinIOIntegrationSuite) TestEnsureBucketIsIdempotent() {
	s.Require().NoError(s.client.EnsureBucket(s.ctx, testBucket))
	exists, err := s.client.BucketExists(s.ctx, testBucket)
	s.Require().NoError(err)
	s.True(exists)
}

func (s *MinIOIntegrationSuite) TestPutThenRemove() {
	body := []byte("integration payload")
	info, err := s.client.PutObject(s.ctx, testBucket, "avatars/it.txt",
		bytes.NewReader(body), int64(len(body)), miniogo.PutObjectOptions{ContentType: "text/plain"})
	s.Require().NoError(err)
	s.Equal(int64(len(body)), info.Size)

	// Objects are readable at the path-style URL the file service hands out.
	cfg := s.client.Config()
	resp, err := http.Get(cfg.EndpointURL() + "/" + testBucket + "/avatars/it.txt")
	s.Require().NoError(err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	s.NotEqual(http.StatusNotFound, resp.StatusCode)

	s.Require().NoError(s.client.RemoveObject(s.ctx, testBucket, "avatars/it.txt"))
	s.Require().NoError(s.client.RemoveObject(s.ctx, testBucket, "avatars/it.txt"), "removing twice is not an error")
}

func (s *MinIOIntegrationSuite) TestHealth() {
	s.NoError(s.client.Health(s.ctx))
}

func TestMinIOIntegration(t *testing.T) {
	suite.Run(t, new(MinIOIntegrationSuite))
}
