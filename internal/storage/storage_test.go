package storage

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	appconfig "github.com/smoosense/smoosense/internal/config"
	"github.com/smoosense/smoosense/pkg/types"
)

func TestParseS3URI(t *testing.T) {
	tests := []struct {
		uri         string
		bucket, key string
		ok          bool
	}{
		{"s3://bucket/images/cat.jpg", "bucket", "images/cat.jpg", true},
		{"S3://b/k", "b", "k", true},
		{"s3://bucket", "", "", false},
		{"s3://bucket/", "", "", false},
		{"s3:///key", "", "", false},
		{"https://bucket/key", "", "", false},
	}
	for _, tt := range tests {
		bucket, key, ok := ParseS3URI(tt.uri)
		if bucket != tt.bucket || key != tt.key || ok != tt.ok {
			t.Errorf("ParseS3URI(%q) = %q, %q, %v", tt.uri, bucket, key, ok)
		}
	}
}

type fakePresigner struct {
	fail bool
}

func (f *fakePresigner) PresignGet(_ context.Context, bucket, key string) (string, error) {
	if f.fail {
		return "", errors.New("no credentials")
	}
	return "https://" + bucket + ".s3.example.com/" + key + "?sig=1", nil
}

func TestMediaLinker(t *testing.T) {
	ctx := context.Background()
	l := NewMediaLinker("/api/file", &fakePresigner{}).ForDataset("data/items.parquet")

	tests := []struct {
		ref  string
		want string
		ok   bool
	}{
		{"https://example.com/a.png", "https://example.com/a.png", true},
		{"s3://bucket/a.jpg", "https://bucket.s3.example.com/a.jpg?sig=1", true},
		{"gs://bucket/a.jpg", "https://storage.googleapis.com/bucket/a.jpg", true},
		{"./img/a.jpg", "/api/file?base=data%2Fitems.parquet&path=.%2Fimg%2Fa.jpg", true},
		{"/abs/a.jpg", "/api/file?path=%2Fabs%2Fa.jpg", true},
		{"file:///abs/a.jpg", "/api/file?path=%2Fabs%2Fa.jpg", true},
		{"ftp://host/a.jpg", "", false},
		{"  ", "", false},
	}
	for _, tt := range tests {
		got, ok := l.Link(ctx, tt.ref, types.TagImage)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Link(%q) = %q, %v; want %q, %v", tt.ref, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMediaLinker_WithoutPresigner(t *testing.T) {
	ctx := context.Background()
	if _, ok := NewMediaLinker("/api/file", nil).Link(ctx, "s3://b/k", types.TagVideo); ok {
		t.Error("s3 references need a presigner")
	}
	if _, ok := NewMediaLinker("/api/file", &fakePresigner{fail: true}).Link(ctx, "s3://b/k", types.TagVideo); ok {
		t.Error("a failed presign yields no link")
	}
}

func TestS3Presigner(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIDEXAMPLE")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret")
	t.Setenv("AWS_CONFIG_FILE", t.TempDir()+"/none")
	t.Setenv("AWS_SHARED_CREDENTIALS_FILE", t.TempDir()+"/none")

	p, err := NewS3Presigner(context.Background(), appconfig.S3Config{
		Region:       "us-east-1",
		Endpoint:     "http://localhost:9000",
		UsePathStyle: true,
		PresignTTL:   10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("NewS3Presigner: %v", err)
	}

	raw, err := p.PresignGet(context.Background(), "media", "clips/a.mp4")
	if err != nil {
		t.Fatalf("PresignGet: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "localhost:9000" || !strings.HasPrefix(u.Path, "/media/clips/a.mp4") {
		t.Errorf("unexpected presigned url %s", raw)
	}
	q := u.Query()
	if q.Get("X-Amz-Signature") == "" || q.Get("X-Amz-Expires") != "600" {
		t.Errorf("presigned url should carry a signature and expiry: %s", raw)
	}
}
