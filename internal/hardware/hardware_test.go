package hardware_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"codeberg.org/mutker/edgepilot/internal/hardware"
)

func TestClassifyTier(t *testing.T) {
	tests := []struct {
		name   string
		vramGB float64
		want   hardware.Tier
	}{
		{"no vram means cpu only", 0, hardware.TierCPUOnly},
		{"gtx 1650 class", 4, hardware.TierLow},
		{"just under the low ceiling", 7.9, hardware.TierLow},
		{"rtx 3070 class", 8, hardware.TierMid},
		{"rtx 4080 class", 16, hardware.TierMid},
		{"rtx 4090 class", 24, hardware.TierHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, hardware.ClassifyTier(tt.vramGB))
		})
	}
}

func TestComputeCapabilityAtLeast(t *testing.T) {
	fp16Floor := hardware.ComputeCapability{Major: 5, Minor: 3}

	assert.True(t, hardware.ComputeCapability{Major: 5, Minor: 3}.AtLeast(fp16Floor))
	assert.True(t, hardware.ComputeCapability{Major: 8, Minor: 6}.AtLeast(fp16Floor))
	assert.True(t, hardware.ComputeCapability{Major: 6, Minor: 0}.AtLeast(fp16Floor))
	assert.False(t, hardware.ComputeCapability{Major: 5, Minor: 2}.AtLeast(fp16Floor))
	assert.False(t, hardware.ComputeCapability{Major: 3, Minor: 7}.AtLeast(fp16Floor))
}
