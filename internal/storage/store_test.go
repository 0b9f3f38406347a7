package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Enabled(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want bool
	}{
		{"fully configured", Config{Endpoint: "http://minio:9000", AccessKey: "a", SecretKey: "b"}, true},
		{"missing endpoint", Config{AccessKey: "a", SecretKey: "b"}, false},
		{"missing credentials", Config{Endpoint: "http://minio:9000"}, false},
		{"empty", Config{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.Enabled())
		})
	}
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "p1/report.md/3", objectKey("p1", "report.md", 3))
}
