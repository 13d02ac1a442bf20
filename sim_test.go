package hx711

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(d time.Duration) {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
}

func (c *fakeClock) count(d time.Duration) int {
	n := 0
	for _, s := range c.sleeps {
		if s == d {
			n++
		}
	}
	return n
}

// chip simulates an HX711 on the far side of the clock and data pins.
type chip struct {
	clock *fakeClock
	// raw holds the queued conversions per slot; the last one repeats.
	raw map[Slot][]uint32

	slot   Slot
	word   uint32
	loaded bool
	edges  int
	high   bool
	highAt time.Time

	// stall is the rising edge, counted from power on, held high for 80µs.
	stall    int
	notReady bool

	rising   int
	polls    int
	bitReads int
	resets   int
	levels   []gpio.Level
}

func newChip(raw map[Slot][]uint32) *chip {
	return &chip{
		clock: &fakeClock{now: time.Unix(1000, 0)},
		raw:   raw,
		slot:  SlotA128,
	}
}

func (c *chip) clockOut(l gpio.Level) {
	c.levels = append(c.levels, l)
	if l == gpio.High {
		if c.high {
			return
		}
		c.high = true
		c.highAt = c.clock.now
		c.rising++
		c.edges++
		if c.rising == c.stall {
			c.clock.now = c.clock.now.Add(80 * time.Microsecond)
		}
		return
	}
	if !c.high {
		return
	}
	c.high = false
	if c.clock.now.Sub(c.highAt) >= maxPulse {
		// Powered down; coming back up resets the chip.
		c.resets++
		c.slot = SlotA128
		c.loaded = false
		c.edges = 0
	}
}

func (c *chip) dataRead() gpio.Level {
	if c.edges > dataBits {
		c.slot = slotForPulses(c.edges - dataBits)
		c.loaded = false
		c.edges = 0
	}
	if c.edges == 0 {
		c.polls++
		if c.notReady {
			return gpio.High
		}
		if !c.loaded {
			c.word = c.next(c.slot)
			c.loaded = true
		}
		return gpio.Low
	}
	c.bitReads++
	if (c.word>>(dataBits-c.edges))&1 == 1 {
		return gpio.High
	}
	return gpio.Low
}

func (c *chip) next(s Slot) uint32 {
	q := c.raw[s]
	if len(q) == 0 {
		return 0
	}
	if len(q) > 1 {
		c.raw[s] = q[1:]
	}
	return q[0]
}

type clockPin struct {
	*gpiotest.Pin
	c *chip
}

func (p *clockPin) Out(l gpio.Level) error {
	p.c.clockOut(l)
	return p.Pin.Out(l)
}

type dataPin struct {
	*gpiotest.Pin
	c *chip
}

func (p *dataPin) Read() gpio.Level {
	return p.c.dataRead()
}

func (c *chip) pins() (*clockPin, *dataPin) {
	return &clockPin{Pin: &gpiotest.Pin{N: "PD_SCK", Num: 6}, c: c},
		&dataPin{Pin: &gpiotest.Pin{N: "DOUT", Num: 5}, c: c}
}

func newTestDev(t *testing.T, c *chip, opts *Opts) *Dev {
	t.Helper()
	if opts == nil {
		opts = DefaultOptions()
	}
	opts.Clock = c.clock
	clk, data := c.pins()
	d, err := New(clk, data, opts)
	require.NoError(t, err)
	return d
}

// encode converts a signed value back to 24 bit two's complement.
func encode(v int32) uint32 {
	return uint32(v) & dataMask
}
