// Package present holds the vocabulary shared by the renderer and the event
// loop: how a frame ended, what a frame slot is doing, and the errors that end
// the process.
package present

// Status is the non-fatal outcome of acquiring or presenting a swapchain
// image. Fatal outcomes are returned as errors instead.
type Status int

const (
	StatusOK Status = iota
	// StatusSuboptimal means the image was presented but the swapchain no
	// longer matches the surface exactly.
	StatusSuboptimal
	// StatusOutOfDate means the swapchain can no longer be used.
	StatusOutOfDate
)

// NeedsRecreate reports whether the swapchain should be rebuilt before the
// next frame.
func (s Status) NeedsRecreate() bool {
	return s == StatusSuboptimal || s == StatusOutOfDate
}

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusSuboptimal:
		return "suboptimal"
	case StatusOutOfDate:
		return "out_of_date"
	default:
		return "unknown"
	}
}

// SlotState tracks one in-flight frame slot through a frame.
type SlotState int

const (
	SlotIdle SlotState = iota
	SlotAcquiring
	SlotRecording
	SlotSubmitted
	SlotPresenting
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotAcquiring:
		return "acquiring"
	case SlotRecording:
		return "recording"
	case SlotSubmitted:
		return "submitted"
	case SlotPresenting:
		return "presenting"
	default:
		return "unknown"
	}
}
