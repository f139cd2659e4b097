package engine

import (
	"fmt"
	"strings"
)

// Devices is the GPU device registry boundary. Real enumeration lives with
// the engine; this interface exists so the configuration surface can
// validate device IDs and thread counts without linking GPU code.
type Devices interface {
	// Count returns the number of usable devices.
	Count() int

	// Name returns the human-readable device name for diagnostics.
	Name(id int) string

	// QueueCount returns the device's supported concurrent-execution range:
	// the upper bound for the configured GPU thread count.
	QueueCount(id int) int

	// Default returns the registry's preferred device ID.
	Default() int
}

// List formats the registry for the list-devices diagnostic: one
// "id: name" line per device.
func List(d Devices) string {
	var b strings.Builder
	for i := 0; i < d.Count(); i++ {
		fmt.Fprintf(&b, "%d: %s\n", i, d.Name(i))
	}
	return b.String()
}

// ValidateDevice checks a configured device ID and GPU thread count against
// the registry.
func ValidateDevice(d Devices, id, gpuThreads int) error {
	if id < 0 || id >= d.Count() {
		return fmt.Errorf("invalid GPU device")
	}
	if qc := d.QueueCount(id); gpuThreads < 1 || gpuThreads > qc {
		return fmt.Errorf("gpu_thread must be between 1 and %d (inclusive)", qc)
	}
	return nil
}
