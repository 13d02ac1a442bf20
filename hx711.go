package hx711

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
)

// Clock provides the time source used to bound clock pulses and to wait
// between polls.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type monotonic struct{}

func (monotonic) Now() time.Time { return time.Now() }
func (monotonic) Sleep(d time.Duration) { time.Sleep(d) }

// Opts holds various configuration options for the amplifier
type Opts struct {
	// Gain applied to channel A, either 128 or 64.
	Gain Gain
	// Channel selected at construction.
	Channel Channel
	// SettleDelay is waited after a channel or gain change. The chip needs
	// about two conversion cycles before readings reflect the new input;
	// 500ms covers the 10SPS output rate. Zero selects the default.
	SettleDelay time.Duration
	// Samples is the number of conversions averaged by Sense, 1 to 99.
	// Zero selects 1.
	Samples int
	// Clock defaults to the monotonic wall clock.
	Clock Clock
	// Logger receives diagnostic events. Per-conversion events are logged at
	// V(1). The zero value discards everything.
	Logger logr.Logger
}

func DefaultOptions() *Opts {
	return &Opts{
		Gain:        Gain128,
		Channel:     ChannelA,
		SettleDelay: defaultSettleDelay,
		Samples:     1,
	}
}

// Measurement is one averaged reading of the active slot.
type Measurement struct {
	Slot Slot
	// Raw is the mean of the signed conversions.
	Raw float64
	// Data is Raw minus the slot offset.
	Data float64
	// Weight is Data divided by the slot scale ratio.
	Weight float64
}

// New configures clk as output and data as input and returns a driver for
// the HX711 wired to them.
//
// It performs one discarded conversion followed by the settle delay, so the
// first reading reflects the requested channel and gain.
func New(clk gpio.PinOut, data gpio.PinIn, opts *Opts) (*Dev, error) {
	if clk == nil || data == nil {
		return nil, fmt.Errorf("hx711: %w: clock and data pins are required", ErrConfig)
	}
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts

	if o.Gain != Gain128 && o.Gain != Gain64 {
		return nil, fmt.Errorf("hx711: %w: gain must be 128 or 64, got %d", ErrConfig, o.Gain)
	}
	if o.Channel != ChannelA && o.Channel != ChannelB {
		return nil, fmt.Errorf("hx711: %w: channel must be A or B, got %v", ErrConfig, o.Channel)
	}
	switch {
	case o.SettleDelay == 0:
		o.SettleDelay = defaultSettleDelay
	case o.SettleDelay < 0:
		return nil, fmt.Errorf("hx711: %w: negative settle delay %v", ErrConfig, o.SettleDelay)
	}
	if o.Samples == 0 {
		o.Samples = 1
	}
	if o.Samples < 1 || o.Samples > maxTimes {
		return nil, fmt.Errorf("hx711: %w: samples must be 1 to %d, got %d", ErrConfig, maxTimes, o.Samples)
	}
	if o.Clock == nil {
		o.Clock = monotonic{}
	}
	if o.Logger.GetSink() == nil {
		o.Logger = logr.Discard()
	}

	d := &Dev{
		clk:    clk,
		data:   data,
		opts:   o,
		name:   fmt.Sprintf("hx711{%s, %s}", clk, data),
		clock:  o.Clock,
		log:    o.Logger.WithName("hx711"),
		gain:   o.Gain,
		wanted: slotFor(o.Channel, o.Gain),
	}
	for s := SlotA128; s <= SlotB; s++ {
		d.cal[s].scale = 1
	}

	if err := data.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return nil, d.wrap(fmt.Errorf("%w: data pin: %v", ErrConfig, err))
	}
	if err := clk.Out(gpio.Low); err != nil {
		return nil, d.wrap(fmt.Errorf("%w: clock pin: %v", ErrConfig, err))
	}

	d.settle()
	return d, nil
}

// Dev is a handle to an HX711 load cell amplifier.
//
// The chip only applies a channel or gain change after the conversion in
// flight has been shifted out, so the slot the next reading belongs to
// (current) lags the requested one (wanted) by one conversion.
type Dev struct {
	clk   gpio.PinOut
	data  gpio.PinIn
	opts  Opts
	name  string
	clock Clock
	log   logr.Logger

	gain    Gain
	wanted  Slot
	current Slot
	cal     [SlotB + 1]calibration

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

func (d *Dev) String() string {
	return d.name
}

// SelectChannel selects the input channel for subsequent readings. The
// transitional conversion is read and discarded, then the settle delay is
// waited.
func (d *Dev) SelectChannel(ch Channel) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return d.wrap(ErrBusy)
	}
	if ch != ChannelA && ch != ChannelB {
		return d.wrap(fmt.Errorf("%w: channel must be A or B, got %v", ErrInvalidArgument, ch))
	}
	d.wanted = slotFor(ch, d.gain)
	d.settle()
	return nil
}

// SetGainA sets the gain used for channel A. The gain is remembered when
// channel B is selected and applied once channel A is selected again.
func (d *Dev) SetGainA(g Gain) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return d.wrap(ErrBusy)
	}
	if g != Gain128 && g != Gain64 {
		return d.wrap(fmt.Errorf("%w: gain must be 128 or 64, got %d", ErrInvalidArgument, g))
	}
	d.gain = g
	d.wanted = slotFor(d.wanted.Channel(), g)
	d.settle()
	return nil
}

// Channel returns the selected channel.
func (d *Dev) Channel() Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.wanted.Channel()
}

// GainA returns the gain configured for channel A.
func (d *Dev) GainA() Gain {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.gain
}

// ActiveSlot returns the slot the chip is configured to deliver next, or the
// selected slot if no conversion completed yet.
func (d *Dev) ActiveSlot() Slot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.activeSlot()
}

// Read returns a single signed conversion of the selected slot.
func (d *Dev) Read() (int32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return 0, d.wrap(ErrBusy)
	}
	v, err := d.readings(1, true)
	if err != nil {
		return 0, d.wrap(err)
	}
	return int32(v), nil
}

// RawDataMean returns the mean of times conversions, 1 to 99.
func (d *Dev) RawDataMean(times int) (float64, error) {
	m, err := d.measureLocked(times)
	return m.Raw, err
}

// DataMean returns the mean of times conversions minus the offset of the
// slot that was read.
func (d *Dev) DataMean(times int) (float64, error) {
	m, err := d.measureLocked(times)
	return m.Data, err
}

// WeightMean returns DataMean divided by the scale ratio of the slot that
// was read.
func (d *Dev) WeightMean(times int) (float64, error) {
	m, err := d.measureLocked(times)
	return m.Weight, err
}

// Sense takes one measurement averaged over Opts.Samples conversions.
func (d *Dev) Sense(m *Measurement) error {
	r, err := d.measureLocked(d.opts.Samples)
	if err != nil {
		return err
	}
	*m = r
	return nil
}

// SenseContinuous returns measurements on a continuous basis.
//
// The application must call Halt() to stop the sensing when done to stop the
// sensor and close the channel. The channel is also closed after the first
// failed measurement; the device stays busy until Halt() is called.
//
// It's the responsibility of the caller to retrieve the values from the
// channel as fast as possible, otherwise the interval may not be respected.
func (d *Dev) SenseContinuous(interval time.Duration) (<-chan Measurement, error) {
	if interval <= 0 {
		return nil, d.wrap(fmt.Errorf("%w: interval must be positive, got %v", ErrInvalidArgument, interval))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return nil, d.wrap(ErrBusy)
	}

	sensing := make(chan Measurement)
	d.stop = make(chan struct{})
	d.wg.Add(1)
	go func(stop <-chan struct{}) {
		defer d.wg.Done()
		defer close(sensing)
		d.sensingContinuous(interval, sensing, stop)
	}(d.stop)
	return sensing, nil
}

// PowerDown puts the chip into power down mode by holding the clock high.
func (d *Dev) PowerDown() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return d.wrap(ErrBusy)
	}
	if err := d.powerDown(); err != nil {
		return d.wrap(err)
	}
	return nil
}

// PowerUp wakes the chip. It comes back on channel A with gain 128; the
// selected slot is restored on the next reading.
func (d *Dev) PowerUp() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return d.wrap(ErrBusy)
	}
	if err := d.powerUp(); err != nil {
		return d.wrap(err)
	}
	return nil
}

// Reset power cycles the chip and reads six conversions to resynchronize.
// It is the recovery for ErrTimingViolation.
func (d *Dev) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return d.wrap(ErrBusy)
	}
	if err := d.reset(); err != nil {
		return d.wrap(err)
	}
	return nil
}

// Halt stops continuous sensing and powers the chip down.
func (d *Dev) Halt() error {
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()
	if stop != nil {
		close(stop)
		d.wg.Wait()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.powerDown(); err != nil {
		return d.wrap(err)
	}
	return nil
}

func (d *Dev) measureLocked(times int) (Measurement, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stop != nil {
		return Measurement{}, d.wrap(ErrBusy)
	}
	m, err := d.measure(times)
	if err != nil {
		return Measurement{}, d.wrap(err)
	}
	return m, nil
}

// measure averages times conversions and applies the calibration of the
// slot active once they complete.
func (d *Dev) measure(times int) (Measurement, error) {
	raw, err := d.rawDataMean(times)
	if err != nil {
		return Measurement{}, err
	}
	s := d.activeSlot()
	c := d.cal[s]
	data := raw - float64(c.offset)
	return Measurement{
		Slot:   s,
		Raw:    raw,
		Data:   data,
		Weight: data / c.scale,
	}, nil
}

func (d *Dev) rawDataMean(times int) (float64, error) {
	sum, err := d.readings(times, true)
	if err != nil {
		return 0, err
	}
	return float64(sum) / float64(times), nil
}

func (d *Dev) sensingContinuous(interval time.Duration, sensing chan<- Measurement, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		// Do one initial sensing right away.
		d.mu.Lock()
		m, err := d.measure(d.opts.Samples)
		d.mu.Unlock()
		if err != nil {
			d.log.Error(err, "continuous sensing stopped")
			return
		}
		select {
		case sensing <- m:
		case <-stop:
			return
		}
		select {
		case <-stop:
			return
		case <-t.C:
		}
	}
}

// settle discards the transitional conversion after a channel or gain change
// and waits for the chip to produce valid data.
func (d *Dev) settle() {
	if _, err := d.read(); err != nil {
		d.log.V(1).Info("transitional conversion failed", "err", err)
	}
	d.clock.Sleep(d.opts.SettleDelay)
}

func (d *Dev) activeSlot() Slot {
	if d.current.valid() {
		return d.current
	}
	return d.wanted
}

func (d *Dev) wrap(err error) error {
	return fmt.Errorf("hx711: %w", err)
}

var _ conn.Resource = &Dev{}
