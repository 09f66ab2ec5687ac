package s3

import (
	"context"
	"testing"

	"labcore/internal/blob"
	"labcore/internal/blob/blobtest"
)

func TestFakeStoreContract(t *testing.T) {
	s := NewFake()
	if s.Driver() != blob.DriverS3 || s.Bucket() != "fake-bucket" {
		t.Fatalf("driver/bucket: %s %s", s.Driver(), s.Bucket())
	}
	blobtest.Exercise(t, s)
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
}

func TestNewWithStaticCredentials(t *testing.T) {
	s, err := New(context.Background(), Config{
		Bucket:          "b",
		Endpoint:        "http://localhost:9000",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		PathStyle:       true,
	})
	if err != nil || s.Bucket() != "b" {
		t.Fatalf("new: %v", err)
	}
}

func TestDecodeChunked(t *testing.T) {
	body, ok := decodeChunked([]byte("5\r\nhello\r\n0\r\n\r\n"))
	if !ok || string(body) != "hello" {
		t.Fatalf("decode: %q %v", body, ok)
	}
	if _, ok := decodeChunked([]byte("plain body")); ok {
		t.Fatalf("plain body decoded")
	}
}
