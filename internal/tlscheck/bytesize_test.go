package tlscheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"512", 512},
		{"512b", 512},
		{"64kb", 64 << 10},
		{"64K", 64 << 10},
		{" 1.5m ", 3 << 19},
		{"2GB", 2 << 30},
	}
	for _, tt := range tests {
		got, err := parseByteSize(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "b", "kb", "-1k", "lots", "1e30", "9000000000g", "inf", "nan"} {
		_, err := parseByteSize(bad)
		assert.Error(t, err, bad)
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "900b", formatBytes(900))
	assert.Equal(t, "64kb", formatBytes(64<<10))
	assert.Equal(t, "1.5mb", formatBytes(3<<19))
	assert.Equal(t, "2gb", formatBytes(2<<30))
}
