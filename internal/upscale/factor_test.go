package upscale

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveFactor(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{"2x", 2, false},
		{"3", 3, false},
		{"4.0", 4, false},
		{"2X", 2, false},
		{" 3x ", 3, false},
		{"4.9x", 4, false}, // fractional factors truncate
		{"5x", 0, true},    // out of supported range
		{"1", 0, true},
		{"0", 0, true},
		{"-2", 0, true},
		{"abc", 2, false}, // unparsable falls back to default
		{"", 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ResolveFactor(tt.input, 2)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveFactorDefaultOutOfRange(t *testing.T) {
	// An unparsable input with a bad default is still rejected.
	_, err := ResolveFactor("garbage", 7)
	assert.Error(t, err)
}

func TestBucketFactor(t *testing.T) {
	tests := []struct {
		scale float64
		want  int
	}{
		{0.5, 2},
		{2.0, 2},
		{2.5, 2},
		{2.50001, 3},
		{3.0, 3},
		{3.5, 3},
		{3.50001, 4},
		{4.0, 4},
		{10.0, 4},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, bucketFactor(tt.scale), "scale %v", tt.scale)
	}
}
