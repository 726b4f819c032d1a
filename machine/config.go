package machine

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default protocol timings, used when a Config leaves them unset.
const (
	DefaultBaudRate = 115200

	DefaultConnectTimeout = 5 * time.Second        // open + wake until the firmware answers
	DefaultWakeDelay      = 1 * time.Second        // wait for the banner after the wake sequence
	DefaultStatusTimeout  = 500 * time.Millisecond // single `?` round trip
	DefaultAckTimeout     = 2 * time.Second        // `ok` for system commands like `$X`
	DefaultSettleDelay    = 200 * time.Millisecond // after sending a motion line, before polling
	DefaultPollInterval   = 100 * time.Millisecond // between status polls
	DefaultIdleTimeout    = 2 * time.Minute        // a single move must finish within this
	DefaultProbeTimeout   = 2 * time.Second        // per port while locating the controller

	DefaultIdleConfirmations = 2
)

// Axis names a machine axis.
type Axis byte

const (
	AxisX Axis = 'X'
	AxisY Axis = 'Y'
	AxisZ Axis = 'Z'
)

func (a Axis) String() string { return string(a) }

// Bounds is an inclusive range of allowed coordinates.
type Bounds struct {
	Low, High float64
}

// Contains returns true if low <= v <= high.
func (b Bounds) Contains(v float64) bool { return b.Low <= v && v <= b.High }

// Config describes one machine model. It is treated as read-only once a
// Machine has been created with it.
type Config struct {
	Model    string
	BaudRate int

	X, Y, Z Bounds

	// XOffset and YOffset are added to XY targets when formatting motion lines.
	XOffset, YOffset float64

	// TravelZ is the safe height for XY moves, DispenseZ the height
	// the head is lowered to over a well.
	TravelZ, DispenseZ float64

	ConnectTimeout time.Duration
	WakeDelay      time.Duration
	StatusTimeout  time.Duration
	AckTimeout     time.Duration
	SettleDelay    time.Duration
	PollInterval   time.Duration

	// IdleTimeout bounds a single idle wait. A negative value waits forever.
	IdleTimeout time.Duration

	ProbeTimeout time.Duration

	// IdleConfirmations is the number of consecutive Idle reports needed
	// before a move is considered complete.
	IdleConfirmations int
}

// WithDefaults returns a copy of cfg with unset timings and baud rate filled in.
func (cfg Config) WithDefaults() Config {
	def := func(d *time.Duration, v time.Duration) {
		if *d == 0 {
			*d = v
		}
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	def(&cfg.ConnectTimeout, DefaultConnectTimeout)
	def(&cfg.WakeDelay, DefaultWakeDelay)
	def(&cfg.StatusTimeout, DefaultStatusTimeout)
	def(&cfg.AckTimeout, DefaultAckTimeout)
	def(&cfg.SettleDelay, DefaultSettleDelay)
	def(&cfg.PollInterval, DefaultPollInterval)
	def(&cfg.ProbeTimeout, DefaultProbeTimeout)
	def(&cfg.IdleTimeout, DefaultIdleTimeout)
	if cfg.IdleConfirmations <= 0 {
		cfg.IdleConfirmations = DefaultIdleConfirmations
	}
	return cfg
}

// Bounds returns the configured limits for the axis.
func (cfg Config) Bounds(axis Axis) Bounds {
	switch axis {
	case AxisX:
		return cfg.X
	case AxisY:
		return cfg.Y
	}
	return cfg.Z
}

// Validate returns an OutOfBoundsError if value is outside the
// limits for axis. Values are never clamped.
func (cfg Config) Validate(axis Axis, value float64) error {
	b := cfg.Bounds(axis)
	if b.Contains(value) {
		return nil
	}
	return &OutOfBoundsError{Axis: axis, Value: value, Low: b.Low, High: b.High}
}

// Check reports configuration mistakes such as inverted bounds.
func (cfg Config) Check() error {
	if cfg.BaudRate <= 0 {
		return fmt.Errorf("invalid baud rate %d", cfg.BaudRate)
	}
	for _, a := range []Axis{AxisX, AxisY, AxisZ} {
		b := cfg.Bounds(a)
		if b.Low > b.High {
			return fmt.Errorf("%s bounds inverted: low %g > high %g", a, b.Low, b.High)
		}
	}
	if cfg.IdleConfirmations < 0 {
		return errors.New("idle confirmations must not be negative")
	}
	return nil
}

type controllerYAML struct {
	BaudRate   int     `yaml:"baud_rate"`
	XLowBound  float64 `yaml:"x_low_bound"`
	XHighBound float64 `yaml:"x_high_bound"`
	YLowBound  float64 `yaml:"y_low_bound"`
	YHighBound float64 `yaml:"y_high_bound"`
	ZLowBound  float64 `yaml:"z_low_bound"`
	ZHighBound float64 `yaml:"z_high_bound"`
	XOffset    float64 `yaml:"x_offset"`
	YOffset    float64 `yaml:"y_offset"`
	TravelZ    float64 `yaml:"travel_z"`
	DispenseZ  float64 `yaml:"dispense_z"`

	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	WakeDelay         time.Duration `yaml:"wake_delay"`
	StatusTimeout     time.Duration `yaml:"status_timeout"`
	AckTimeout        time.Duration `yaml:"ack_timeout"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
	IdleConfirmations int           `yaml:"idle_confirmations"`
}

type configFile struct {
	Machines map[string]struct {
		Controller *controllerYAML `yaml:"controller"`
	} `yaml:"machines"`
}

// ParseConfig reads the configuration for model from YAML data with the layout
//
//	machines:
//	  <model>:
//	    controller:
//	      baud_rate: 115200
//	      x_low_bound: 0
//	      ...
func ParseConfig(data []byte, model string) (Config, error) {
	var f configFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	m, ok := f.Machines[model]
	if !ok {
		return Config{}, fmt.Errorf("unknown machine model %q", model)
	}
	if m.Controller == nil {
		return Config{}, fmt.Errorf("machine model %q: missing controller section", model)
	}
	c := m.Controller
	cfg := Config{
		Model:    model,
		BaudRate: c.BaudRate,

		X: Bounds{Low: c.XLowBound, High: c.XHighBound},
		Y: Bounds{Low: c.YLowBound, High: c.YHighBound},
		Z: Bounds{Low: c.ZLowBound, High: c.ZHighBound},

		XOffset:   c.XOffset,
		YOffset:   c.YOffset,
		TravelZ:   c.TravelZ,
		DispenseZ: c.DispenseZ,

		ConnectTimeout:    c.ConnectTimeout,
		WakeDelay:         c.WakeDelay,
		StatusTimeout:     c.StatusTimeout,
		AckTimeout:        c.AckTimeout,
		SettleDelay:       c.SettleDelay,
		PollInterval:      c.PollInterval,
		IdleTimeout:       c.IdleTimeout,
		ProbeTimeout:      c.ProbeTimeout,
		IdleConfirmations: c.IdleConfirmations,
	}.WithDefaults()

	if err := cfg.Check(); err != nil {
		return Config{}, fmt.Errorf("machine model %q: %w", model, err)
	}
	return cfg, nil
}

// LoadConfig reads the configuration for model from the YAML file at path.
func LoadConfig(path, model string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return ParseConfig(data, model)
}
