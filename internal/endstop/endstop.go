// Package endstop reads the binary sensors that report a fully open or fully
// closed door. The gpiocdev implementation needs a Linux GPIO character device;
// the fake one is for tests and dry runs.
package endstop

// Sensor is a binary endstop.
type Sensor interface {
	// State returns the current logical level, true when the endstop is reached.
	State() (bool, error)

	// Watch registers the handler called on every level change. The handler
	// may be called from another goroutine.
	Watch(h func(state bool)) error

	// Close releases the sensor.
	Close() error
}
