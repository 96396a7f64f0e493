package publish

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheEverestLab/coesg-data/internal/logger"
)

func TestGCSObjectName(t *testing.T) {
	cases := []struct {
		prefix, name, want string
	}{
		{"", "v1/latest.json", "v1/latest.json"},
		{"coe", "v1/latest.json", "coe/v1/latest.json"},
		{"/coe/data/", "v1/history.json", "coe/data/v1/history.json"},
	}
	for _, tc := range cases {
		m := &GCSMirror{opts: GCSOptions{Prefix: tc.prefix}}
		assert.Equal(t, tc.want, m.objectName(tc.name), "prefix %q", tc.prefix)
	}
}

func TestNewGCSMirrorRequiresBucket(t *testing.T) {
	_, err := NewGCSMirror(context.Background(), logger.NewNop(), GCSOptions{})
	require.Error(t, err)
}

func TestNewGCSMirrorEmulator(t *testing.T) {
	t.Setenv("STORAGE_EMULATOR_HOST", "")

	m, err := NewGCSMirror(context.Background(), logger.NewNop(), GCSOptions{
		Bucket:       "coe-artifacts",
		EmulatorHost: "http://localhost:4443/",
	})
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, DefaultCacheControl, m.opts.CacheControl)
}
