package present

import (
	"errors"
	"fmt"
	"time"
)

// ErrSurfaceEmpty means the surface currently has no area (the window is
// minimized) and no swapchain can be built for it. Rendering resumes once the
// window has a size again.
var ErrSurfaceEmpty = errors.New("surface has zero extent")

// NoSuitableDeviceError is returned when no physical device can both render
// and present to the window surface.
type NoSuitableDeviceError struct {
	Considered int
}

func (e *NoSuitableDeviceError) Error() string {
	return fmt.Sprintf("no suitable GPU found (%d considered)", e.Considered)
}

// DeviceLostError is returned when the device reports loss or a fence wait
// exceeds the hung-device threshold.
type DeviceLostError struct {
	Op      string
	Timeout time.Duration // zero when the driver reported the loss
}

func (e *DeviceLostError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("device lost: %s did not complete within %s", e.Op, e.Timeout)
	}
	return fmt.Sprintf("device lost during %s", e.Op)
}

// ShaderModuleCreationError is returned when the driver rejects a shader blob.
type ShaderModuleCreationError struct {
	Stage string
	Err   error
}

func (e *ShaderModuleCreationError) Error() string {
	return fmt.Sprintf("create %s shader module: %v", e.Stage, e.Err)
}

func (e *ShaderModuleCreationError) Unwrap() error {
	return e.Err
}

// SurfaceCreationError is returned when the window layer cannot provide a
// presentable surface.
type SurfaceCreationError struct {
	Err error
}

func (e *SurfaceCreationError) Error() string {
	return fmt.Sprintf("create window surface: %v", e.Err)
}

func (e *SurfaceCreationError) Unwrap() error {
	return e.Err
}
