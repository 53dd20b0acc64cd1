package storage

import (
	"errors"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
)

func TestNewMinIOStorageValidatesConfig(t *testing.T) {
	t.Parallel()
	if _, err := NewMinIOStorage(MinIOConfig{AccessKey: "a", SecretKey: "b"}); err == nil {
		t.Fatalf("expected missing endpoint to fail")
	}
	if _, err := NewMinIOStorage(MinIOConfig{Endpoint: "localhost:9000", SecretKey: "b"}); err == nil {
		t.Fatalf("expected missing access key to fail")
	}
	s, err := NewMinIOStorage(MinIOConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"})
	if err != nil || s == nil {
		t.Fatalf("expected client, got %v", err)
	}
}

func TestIsNotFound(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want bool
	}{
		{minio.ErrorResponse{StatusCode: http.StatusNotFound}, true},
		{minio.ErrorResponse{Code: "NoSuchKey"}, true},
		{minio.ErrorResponse{Code: "NoSuchBucket"}, true},
		{minio.ErrorResponse{StatusCode: http.StatusForbidden, Code: "AccessDenied"}, false},
		{errors.New("dial tcp: refused"), false},
	}
	for _, tc := range cases {
		if got := isNotFound(tc.err); got != tc.want {
			t.Fatalf("isNotFound(%v): expected %v, got %v", tc.err, tc.want, got)
		}
	}
}
