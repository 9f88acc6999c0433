package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"1024", 1024},
		{"1KB", 1024},
		{"64kb", 64 * 1024},
		{"5MB", 5 * 1024 * 1024},
		{"1.5MB", 1572864},
		{"2 GiB", 2 * 1024 * 1024 * 1024},
		{"1g", 1024 * 1024 * 1024},
		{"0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Bytes())
		})
	}
}

func TestParseByteSizeInvalid(t *testing.T) {
	for _, input := range []string{"", "abc", "12XB", "-"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseByteSize(input)
			assert.Error(t, err)
		})
	}
}

func TestByteSizeString(t *testing.T) {
	tests := []struct {
		size ByteSize
		want string
	}{
		{ByteSize(512), "512B"},
		{ByteSize(1024), "1KB"},
		{ByteSize(64 * 1024), "64KB"},
		{ByteSize(5 * 1024 * 1024), "5MB"},
		{ByteSize(3 * 1024 * 1024 * 1024), "3GB"},
		{ByteSize(1536), "1536B"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.size.String())
		})
	}
}

func TestByteSizeUnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("64KB")))
	assert.Equal(t, int64(64*1024), b.Bytes())
}

func TestByteSizeJSONRoundTrip(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalJSON([]byte(`"5MB"`)))
	assert.Equal(t, int64(5*1024*1024), b.Bytes())

	require.NoError(t, b.UnmarshalJSON([]byte(`4096`)))
	assert.Equal(t, int64(4096), b.Bytes())

	out, err := ByteSize(1024).MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1KB"`, string(out))
}
