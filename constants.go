package hx711

import (
	"fmt"
	"time"
)

// Channel is one of the two input multiplexer selections.
type Channel int

const (
	ChannelA Channel = iota + 1
	ChannelB
)

func (c Channel) String() string {
	switch c {
	case ChannelA:
		return "A"
	case ChannelB:
		return "B"
	}
	return fmt.Sprintf("Channel(%d)", int(c))
}

// Gain is the amplification applied to channel A. Channel B always runs at
// a fixed gain of 32.
type Gain int

const (
	Gain128 Gain = 128
	Gain64  Gain = 64
)

// Slot identifies a calibration slot, one per channel/gain combination the
// chip can be configured for.
type Slot int

const (
	SlotA128 Slot = iota + 1
	SlotA64
	SlotB
)

// SlotOf returns the slot for a channel and channel A gain. The gain is
// ignored for channel B.
func SlotOf(ch Channel, g Gain) (Slot, error) {
	switch {
	case ch == ChannelA && g == Gain128:
		return SlotA128, nil
	case ch == ChannelA && g == Gain64:
		return SlotA64, nil
	case ch == ChannelB:
		return SlotB, nil
	}
	return 0, fmt.Errorf("%w: no slot for channel %v gain %d", ErrInvalidArgument, ch, g)
}

// slotFor is SlotOf for a channel and gain already known to be valid.
func slotFor(ch Channel, g Gain) Slot {
	switch {
	case ch == ChannelB:
		return SlotB
	case g == Gain64:
		return SlotA64
	}
	return SlotA128
}

func (s Slot) String() string {
	switch s {
	case SlotA128:
		return "A/128"
	case SlotA64:
		return "A/64"
	case SlotB:
		return "B/32"
	}
	return fmt.Sprintf("Slot(%d)", int(s))
}

func (s Slot) valid() bool {
	return s >= SlotA128 && s <= SlotB
}

// Channel returns the input channel the slot reads from.
func (s Slot) Channel() Channel {
	if s == SlotB {
		return ChannelB
	}
	return ChannelA
}

// pulses returns the number of clock pulses sent after the 24 data bits to
// configure the chip for this slot on the next conversion.
func (s Slot) pulses() int {
	switch s {
	case SlotA128:
		return 1
	case SlotB:
		return 2
	case SlotA64:
		return 3
	}
	return 0
}

// slotForPulses is the inverse of Slot.pulses.
func slotForPulses(n int) Slot {
	switch n {
	case 1:
		return SlotA128
	case 2:
		return SlotB
	case 3:
		return SlotA64
	}
	return 0
}

// Protocol timing.
const (
	// PD_SCK held high for 60µs or more puts the chip into power down.
	maxPulse = 60 * time.Microsecond

	readyPolls    = 40
	readyInterval = 50 * time.Millisecond

	powerDelay = 10 * time.Millisecond

	defaultSettleDelay = 500 * time.Millisecond
)

// Raw conversion values.
const (
	dataBits = 24
	dataMask = 0xffffff
	signBit  = 0x800000

	// The chip clamps out of range conversions to these values.
	rawSaturatedHigh = 0x7fffff
	rawSaturatedLow  = 0x800000
)

// Retry bounds.
const (
	maxTimes         = 99
	readAttempts     = 5
	switchAttempts   = 3
	zeroAttempts     = 5
	resetResyncTimes = 6
	defaultZeroTimes = 10
)
