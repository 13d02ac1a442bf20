package hx711

import "errors"

var (
	// ErrConfig is returned by New for invalid pins, gain or channel.
	ErrConfig = errors.New("invalid configuration")
	// ErrInvalidArgument indicates an out of range parameter. The call had no
	// side effect.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotReady means DOUT never went low while polling for a conversion.
	// The chip is likely disconnected or powered down.
	ErrNotReady = errors.New("not ready")
	// ErrTimingViolation means a clock pulse stayed high for 60µs or more and
	// the chip may have powered down. Reset recovers from it.
	ErrTimingViolation = errors.New("clock pulse too long")
	// ErrInvalidReading is returned for the saturated values 0x7fffff and
	// 0x800000.
	ErrInvalidReading = errors.New("invalid reading")
	// ErrReadFailed is returned when internal retries are exhausted.
	ErrReadFailed = errors.New("read failed")
	// ErrCalibrationFailed is returned when zeroing or calibration could not
	// obtain a reading.
	ErrCalibrationFailed = errors.New("calibration failed")
	// ErrBusy is returned by one-shot reads while sensing continuously.
	ErrBusy = errors.New("already sensing continuously")
)
