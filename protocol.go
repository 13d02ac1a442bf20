package hx711

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
)

// readings returns the sum of times consecutive conversions of the wanted
// slot.
//
// A pending slot change is applied first by clocking out up to three
// conversions. If that fails the chip is reset when allowReset is set. Once the
// chip delivers the wanted slot, up to five attempts are made to collect
// times conversions in a row.
func (d *Dev) readings(times int, allowReset bool) (int64, error) {
	if times < 1 || times > maxTimes {
		return 0, fmt.Errorf("%w: times must be 1 to %d, got %d", ErrInvalidArgument, maxTimes, times)
	}

	for i := 0; d.current != d.wanted; i++ {
		if i == switchAttempts {
			d.log.V(1).Info("cannot switch slot", "wanted", d.wanted, "current", d.current)
			if allowReset {
				if err := d.reset(); err != nil {
					d.log.V(1).Info("reset failed", "err", err)
				}
			}
			return 0, fmt.Errorf("%w: cannot switch to %v", ErrReadFailed, d.wanted)
		}
		if _, err := d.read(); err != nil {
			d.log.V(1).Info("switching slot", "wanted", d.wanted, "attempt", i+1, "err", err)
		}
	}

	var err error
	for attempt := 1; attempt <= readAttempts; attempt++ {
		var sum int64
		if sum, err = d.sum(times); err == nil {
			return sum, nil
		}
		d.log.V(1).Info("reading failed", "attempt", attempt, "err", err)
	}
	return 0, fmt.Errorf("%w after %d attempts: %w", ErrReadFailed, readAttempts, err)
}

func (d *Dev) sum(times int) (int64, error) {
	var sum int64
	for i := 0; i < times; i++ {
		v, err := d.read()
		if err != nil {
			return 0, err
		}
		sum += int64(v)
	}
	return sum, nil
}

// read shifts one conversion out of the chip.
//
// The 24 data bits belong to the slot configured by the previous read. The
// pulses that follow them program the wanted slot for the next conversion.
func (d *Dev) read() (int32, error) {
	if err := d.clk.Out(gpio.Low); err != nil {
		return 0, err
	}
	if err := d.waitReady(); err != nil {
		return 0, err
	}

	var raw uint32
	for i := 0; i < dataBits; i++ {
		if err := d.pulse(); err != nil {
			return 0, fmt.Errorf("data bit %d: %w", i, err)
		}
		raw <<= 1
		if d.data.Read() == gpio.High {
			raw |= 1
		}
	}

	read, next := d.current, d.wanted
	for i := 0; i < next.pulses(); i++ {
		if err := d.pulse(); err != nil {
			return 0, fmt.Errorf("gain pulse %d: %w", i+1, err)
		}
	}
	d.current = slotForPulses(next.pulses())

	d.log.V(1).Info("conversion", "raw", fmt.Sprintf("%#06x", raw), "slot", read, "next", d.current)
	v, err := decode(raw)
	if err != nil {
		return 0, err
	}
	if read.valid() {
		d.cal[read].last = v
	}
	return v, nil
}

// waitReady polls DOUT until the chip pulls it low.
func (d *Dev) waitReady() error {
	for i := 0; i < readyPolls; i++ {
		if d.data.Read() == gpio.Low {
			return nil
		}
		d.clock.Sleep(readyInterval)
	}
	return fmt.Errorf("%w after %d polls", ErrNotReady, readyPolls)
}

// pulse emits one clock pulse and fails if PD_SCK was high long enough for
// the chip to enter power down.
func (d *Dev) pulse() error {
	start := d.clock.Now()
	if err := d.clk.Out(gpio.High); err != nil {
		return err
	}
	if err := d.clk.Out(gpio.Low); err != nil {
		return err
	}
	if elapsed := d.clock.Now().Sub(start); elapsed >= maxPulse {
		return fmt.Errorf("%w: held high for %v", ErrTimingViolation, elapsed)
	}
	return nil
}

// decode converts a 24 bit two's complement conversion.
func decode(raw uint32) (int32, error) {
	raw &= dataMask
	if raw == rawSaturatedHigh || raw == rawSaturatedLow {
		return 0, fmt.Errorf("%w: saturated value %#06x", ErrInvalidReading, raw)
	}
	if raw&signBit != 0 {
		return -int32((raw ^ dataMask) + 1), nil
	}
	return int32(raw), nil
}

func (d *Dev) powerDown() error {
	if err := d.clk.Out(gpio.Low); err != nil {
		return err
	}
	if err := d.clk.Out(gpio.High); err != nil {
		return err
	}
	d.clock.Sleep(powerDelay)
	// Whatever pulls the clock low next wakes the chip on channel A with
	// gain 128.
	d.current = SlotA128
	return nil
}

func (d *Dev) powerUp() error {
	if err := d.clk.Out(gpio.Low); err != nil {
		return err
	}
	d.clock.Sleep(powerDelay)
	// Power on reset selects channel A with gain 128.
	d.current = SlotA128
	return nil
}

func (d *Dev) reset() error {
	if err := d.powerDown(); err != nil {
		return err
	}
	if err := d.powerUp(); err != nil {
		return err
	}
	if _, err := d.readings(resetResyncTimes, false); err != nil {
		return err
	}
	return nil
}
