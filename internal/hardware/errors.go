package hardware

import "github.com/NVIDIA/go-nvml/pkg/nvml"

// nvmlError adapts an NVML return code to the error interface
type nvmlError struct {
	ret nvml.Return
}

func (e *nvmlError) Error() string {
	return nvml.ErrorString(e.ret)
}

func newNVMLError(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	return &nvmlError{ret: ret}
}
