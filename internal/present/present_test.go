package present

import (
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatus_NeedsRecreate(t *testing.T) {
	assert.False(t, StatusOK.NeedsRecreate())
	assert.True(t, StatusSuboptimal.NeedsRecreate())
	assert.True(t, StatusOutOfDate.NeedsRecreate())
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "ok", StatusOK.String())
	assert.Equal(t, "suboptimal", StatusSuboptimal.String())
	assert.Equal(t, "out_of_date", StatusOutOfDate.String())
	assert.Equal(t, "unknown", Status(42).String())
}

func TestSlotState_String(t *testing.T) {
	states := []SlotState{SlotIdle, SlotAcquiring, SlotRecording, SlotSubmitted, SlotPresenting}
	want := []string{"idle", "acquiring", "recording", "submitted", "presenting"}
	for i, s := range states {
		assert.Equal(t, want[i], s.String())
	}
}

func TestErrors_As(t *testing.T) {
	err := fmt.Errorf("init: %w", &NoSuitableDeviceError{Considered: 2})
	var nsd *NoSuitableDeviceError
	assert.True(t, errors.As(err, &nsd))
	assert.Equal(t, 2, nsd.Considered)

	err = fmt.Errorf("draw: %w", &DeviceLostError{Op: "wait fence", Timeout: 5 * time.Second})
	var lost *DeviceLostError
	assert.True(t, errors.As(err, &lost))
	assert.Contains(t, err.Error(), "within 5s")

	assert.Equal(t, "device lost during queue submit", (&DeviceLostError{Op: "queue submit"}).Error())
}

func TestErrors_Unwrap(t *testing.T) {
	shader := &ShaderModuleCreationError{Stage: "vertex", Err: io.ErrUnexpectedEOF}
	assert.ErrorIs(t, shader, io.ErrUnexpectedEOF)
	assert.Contains(t, shader.Error(), "vertex")

	surface := &SurfaceCreationError{Err: io.EOF}
	assert.ErrorIs(t, surface, io.EOF)
}
