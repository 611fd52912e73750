package lode

import (
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func TestS3Config_ClientOptions(t *testing.T) {
	cfg := S3Config{Bucket: "media", Endpoint: "http://minio:9000", UsePathStyle: true}
	var o s3.Options
	cfg.clientOptions(&o)
	if o.BaseEndpoint == nil || *o.BaseEndpoint != "http://minio:9000" {
		t.Errorf("BaseEndpoint = %v", o.BaseEndpoint)
	}
	if !o.UsePathStyle {
		t.Error("UsePathStyle not applied")
	}

	var plain s3.Options
	(&S3Config{Bucket: "media"}).clientOptions(&plain)
	if plain.BaseEndpoint != nil || plain.UsePathStyle {
		t.Errorf("defaults should leave options untouched: %+v", plain)
	}
}

func TestS3Config_LoadOptions(t *testing.T) {
	cfg := S3Config{Bucket: "media", Region: "eu-central-1", Profile: "archive", MaxAttempts: 5}
	var lo config.LoadOptions
	for _, opt := range cfg.loadOptions() {
		if err := opt(&lo); err != nil {
			t.Fatal(err)
		}
	}
	if lo.Region != "eu-central-1" || lo.SharedConfigProfile != "archive" || lo.RetryMaxAttempts != 5 {
		t.Errorf("unexpected load options region=%q profile=%q attempts=%d", lo.Region, lo.SharedConfigProfile, lo.RetryMaxAttempts)
	}
	if n := len((&S3Config{Bucket: "media"}).loadOptions()); n != 0 {
		t.Errorf("empty config produced %d options", n)
	}
}

func TestS3Config_Validate(t *testing.T) {
	tests := []struct {
		cfg  S3Config
		want string
	}{
		{S3Config{}, "bucket is required"},
		{S3Config{Bucket: "media/ferry"}, "invalid S3 bucket"},
		{S3Config{Bucket: "media", MaxAttempts: -1}, "max attempts"},
	}
	for _, tt := range tests {
		err := tt.cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("Validate(%+v) = %v, want %q", tt.cfg, err, tt.want)
		}
	}
	if err := (&S3Config{Bucket: "media"}).Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestParseS3Path_TrimsSlashes(t *testing.T) {
	b, p := ParseS3Path("s3://media/ferry/archive/")
	if b != "media" || p != "ferry/archive" {
		t.Errorf("ParseS3Path = (%q, %q)", b, p)
	}
}
