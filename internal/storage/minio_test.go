package storage

import (
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewImagesDefaultsBucket(t *testing.T) {
	s, err := NewImages("localhost:9000", "key", "secret", false, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultImageBucket, s.Bucket())

	s, err = NewImages("localhost:9000", "key", "secret", false, "farm-images")
	require.NoError(t, err)
	assert.Equal(t, "farm-images", s.Bucket())
}

func TestIsNoSuchKey(t *testing.T) {
	assert.True(t, isNoSuchKey(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.False(t, isNoSuchKey(minio.ErrorResponse{Code: "AccessDenied"}))
}
