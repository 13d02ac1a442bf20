package hx711

import (
	"fmt"
	"math"
)

// calibration is the per slot state converting conversions into weight.
type calibration struct {
	offset int64
	// scale is always positive.
	scale float64
	last  int32
}

// Tare zeroes the active slot using ten conversions.
func (d *Dev) Tare() error {
	return d.Zero(defaultZeroTimes)
}

// Zero stores the mean of times conversions, 1 to 99, as the offset of the
// slot they were read from. Up to five attempts are made.
func (d *Dev) Zero(times int) error {
	if times < 1 || times > maxTimes {
		return d.wrap(fmt.Errorf("%w: times must be 1 to %d, got %d", ErrInvalidArgument, maxTimes, times))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return d.wrap(ErrBusy)
	}

	var err error
	for attempt := 1; attempt <= zeroAttempts; attempt++ {
		var mean float64
		if mean, err = d.rawDataMean(times); err != nil {
			d.log.V(1).Info("zero failed", "attempt", attempt, "err", err)
			continue
		}
		s := d.activeSlot()
		d.cal[s].offset = int64(math.Round(mean))
		d.log.Info("zeroed", "slot", s, "offset", d.cal[s].offset)
		return nil
	}
	return d.wrap(fmt.Errorf("%w after %d attempts: %w", ErrCalibrationFailed, zeroAttempts, err))
}

// Calibrate derives the scale ratio of the active slot from a known weight
// placed on the load cell. The slot must have been zeroed first.
func (d *Dev) Calibrate(knownWeight float64, times int) error {
	if !(knownWeight > 0) || math.IsInf(knownWeight, 1) {
		return d.wrap(fmt.Errorf("%w: known weight must be positive, got %v", ErrInvalidArgument, knownWeight))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return d.wrap(ErrBusy)
	}

	m, err := d.measure(times)
	if err != nil {
		return d.wrap(fmt.Errorf("%w: %w", ErrCalibrationFailed, err))
	}
	ratio := m.Data / knownWeight
	if !(ratio > 0) {
		return d.wrap(fmt.Errorf("%w: scale ratio %v is not positive, check the load cell wiring", ErrCalibrationFailed, ratio))
	}
	d.cal[m.Slot].scale = ratio
	d.log.Info("calibrated", "slot", m.Slot, "ratio", ratio)
	return nil
}

// SetOffset sets the offset of the active slot.
func (d *Dev) SetOffset(offset int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cal[d.activeSlot()].offset = offset
}

// SetOffsetFor sets the offset of slot s.
func (d *Dev) SetOffsetFor(s Slot, offset int64) error {
	if !s.valid() {
		return d.wrap(fmt.Errorf("%w: unknown slot %v", ErrInvalidArgument, s))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cal[s].offset = offset
	return nil
}

// SetScaleRatio sets the scale ratio of the active slot.
func (d *Dev) SetScaleRatio(ratio float64) error {
	if err := checkRatio(ratio); err != nil {
		return d.wrap(err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cal[d.activeSlot()].scale = ratio
	return nil
}

// SetScaleRatioFor sets the scale ratio of slot s.
func (d *Dev) SetScaleRatioFor(s Slot, ratio float64) error {
	if !s.valid() {
		return d.wrap(fmt.Errorf("%w: unknown slot %v", ErrInvalidArgument, s))
	}
	if err := checkRatio(ratio); err != nil {
		return d.wrap(err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cal[s].scale = ratio
	return nil
}

func checkRatio(ratio float64) error {
	if !(ratio > 0) || math.IsInf(ratio, 1) {
		return fmt.Errorf("%w: scale ratio must be positive, got %v", ErrInvalidArgument, ratio)
	}
	return nil
}

// Offset returns the offset of slot s.
func (d *Dev) Offset(s Slot) int64 {
	if !s.valid() {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cal[s].offset
}

// ScaleRatio returns the scale ratio of slot s, 1 until set.
func (d *Dev) ScaleRatio(s Slot) float64 {
	if !s.valid() {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cal[s].scale
}

// LastSample returns the last valid conversion read from slot s.
func (d *Dev) LastSample(s Slot) int32 {
	if !s.valid() {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cal[s].last
}
