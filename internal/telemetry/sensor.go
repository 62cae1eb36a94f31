package telemetry

import (
	"codeberg.org/mutker/edgepilot/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

const bytesPerGB = 1024 * 1024 * 1024

// systemSensor reads GPU metrics through NVML and CPU/RAM metrics through
// gopsutil. A failed read of any metric reports zero for that metric and
// logs at debug level; telemetry degradation must never crash the pipeline.
type systemSensor struct {
	device          nvml.Device
	gpuAvailable    bool
	nvmlInitialized bool
}

// NewSystemSensor initializes NVML once when a GPU is expected. When the GPU
// is absent or initialization fails, the sensor degrades to CPU/RAM only.
func NewSystemSensor(gpuAvailable bool) Sensor {
	s := &systemSensor{}

	if !gpuAvailable {
		return s
	}

	if ret := nvml.Init(); ret != nvml.SUCCESS {
		logger.Debug().Str("nvml", nvml.ErrorString(ret)).Msg("NVML init failed, GPU telemetry disabled")
		return s
	}
	s.nvmlInitialized = true

	device, ret := nvml.DeviceGetHandleByIndex(0)
	if ret != nvml.SUCCESS {
		logger.Debug().Str("nvml", nvml.ErrorString(ret)).Msg("GPU handle unavailable, GPU telemetry disabled")
		return s
	}

	s.device = device
	s.gpuAvailable = true

	return s
}

func (s *systemSensor) Read() Reading {
	var reading Reading

	if s.gpuAvailable {
		if util, ret := s.device.GetUtilizationRates(); ret == nvml.SUCCESS {
			reading.GPUUtil = float64(util.Gpu)
		} else {
			logger.Debug().Str("nvml", nvml.ErrorString(ret)).Msg("GPU utilization read failed, reporting zeros")
		}

		if memInfo, ret := s.device.GetMemoryInfo(); ret == nvml.SUCCESS {
			reading.VRAMUsedGB = float64(memInfo.Used) / bytesPerGB
			reading.VRAMTotalGB = float64(memInfo.Total) / bytesPerGB
		} else {
			logger.Debug().Str("nvml", nvml.ErrorString(ret)).Msg("VRAM read failed, reporting zeros")
		}
	}

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		reading.CPUUtil = percentages[0]
	} else if err != nil {
		logger.Debug().Err(err).Msg("CPU utilization read failed, reporting zero")
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		reading.RAMUsedGB = float64(vm.Used) / bytesPerGB
	} else {
		logger.Debug().Err(err).Msg("RAM read failed, reporting zero")
	}

	return reading
}

func (s *systemSensor) Close() error {
	if s.nvmlInitialized {
		if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
			return newNVMLError(ret)
		}
	}
	return nil
}
