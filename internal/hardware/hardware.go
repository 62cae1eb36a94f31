package hardware

import (
	"codeberg.org/mutker/edgepilot/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

const (
	bytesPerGB = 1024 * 1024 * 1024

	// VRAM tier boundaries (GB)
	lowTierCeilingGB = 8.0
	midTierCeilingGB = 16.0
)

// Compute-capability floors for precision features
var (
	fp16MinCC       = ComputeCapability{Major: 5, Minor: 3}
	tensorCoreMinCC = ComputeCapability{Major: 7, Minor: 0}
)

// Tier is a coarse capability classification derived from VRAM capacity,
// not from GPU model strings.
type Tier string

const (
	TierLow     Tier = "low"
	TierMid     Tier = "mid"
	TierHigh    Tier = "high"
	TierCPUOnly Tier = "cpu_only"
)

type ComputeCapability struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
}

func (c ComputeCapability) AtLeast(other ComputeCapability) bool {
	if c.Major != other.Major {
		return c.Major > other.Major
	}
	return c.Minor >= other.Minor
}

// Profile is an immutable snapshot of detected hardware capabilities,
// produced once at startup and shared read-only.
type Profile struct {
	GPUName           string            `json:"gpu_name"`
	GPUAvailable      bool              `json:"gpu_available"`
	VRAMTotalGB       float64           `json:"vram_total_gb"`
	ComputeCapability ComputeCapability `json:"compute_capability"`
	FP16Supported     bool              `json:"fp16_supported"`
	TensorCores       bool              `json:"tensor_cores"`
	Tier              Tier              `json:"tier"`
	CPUCores          int               `json:"cpu_cores"`
	RAMTotalGB        float64           `json:"ram_total_gb"`
	RecommendedDevice string            `json:"recommended_device"`
}

// Detect probes the first NVIDIA GPU via NVML and classifies the host.
// Any probe failure degrades to the CPU-only profile; detection never fails.
func Detect() Profile {
	profile, err := detectNvidia()
	if err != nil {
		logger.Warn().Err(err).Msg("GPU detection failed, falling back to CPU profile")
		profile = cpuFallback()
	}

	logger.Info().
		Str("gpu", profile.GPUName).
		Float64("vram_total_gb", profile.VRAMTotalGB).
		Str("tier", string(profile.Tier)).
		Str("device", profile.RecommendedDevice).
		Msg("Hardware profile detected")

	return profile
}

func detectNvidia() (Profile, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return Profile{}, newNVMLError(ret)
	}
	defer nvml.Shutdown()

	device, ret := nvml.DeviceGetHandleByIndex(0)
	if ret != nvml.SUCCESS {
		return Profile{}, newNVMLError(ret)
	}

	name, ret := device.GetName()
	if ret != nvml.SUCCESS {
		return Profile{}, newNVMLError(ret)
	}

	memInfo, ret := device.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return Profile{}, newNVMLError(ret)
	}
	vramTotalGB := float64(memInfo.Total) / bytesPerGB

	major, minor, ret := device.GetCudaComputeCapability()
	if ret != nvml.SUCCESS {
		return Profile{}, newNVMLError(ret)
	}
	cc := ComputeCapability{Major: major, Minor: minor}

	return Profile{
		GPUName:           name,
		GPUAvailable:      true,
		VRAMTotalGB:       vramTotalGB,
		ComputeCapability: cc,
		FP16Supported:     cc.AtLeast(fp16MinCC),
		TensorCores:       cc.AtLeast(tensorCoreMinCC),
		Tier:              ClassifyTier(vramTotalGB),
		CPUCores:          physicalCores(),
		RAMTotalGB:        totalRAMGB(),
		RecommendedDevice: "cuda:0",
	}, nil
}

func cpuFallback() Profile {
	return Profile{
		GPUName:           "N/A (CPU only)",
		GPUAvailable:      false,
		Tier:              TierCPUOnly,
		CPUCores:          physicalCores(),
		RAMTotalGB:        totalRAMGB(),
		RecommendedDevice: "cpu",
	}
}

// ClassifyTier maps VRAM capacity to a performance tier.
func ClassifyTier(vramGB float64) Tier {
	switch {
	case vramGB <= 0:
		return TierCPUOnly
	case vramGB < lowTierCeilingGB:
		return TierLow
	case vramGB <= midTierCeilingGB:
		return TierMid
	default:
		return TierHigh
	}
}

func physicalCores() int {
	count, err := cpu.Counts(false)
	if err != nil || count < 1 {
		return 1
	}
	return count
}

func totalRAMGB() float64 {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0
	}
	return float64(vm.Total) / bytesPerGB
}
