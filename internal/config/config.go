package config

import (
	"os"
	"strings"
	"time"

	"codeberg.org/mutker/vawtctl/internal/acquisition"
	"codeberg.org/mutker/vawtctl/internal/errors"
	"codeberg.org/mutker/vawtctl/internal/metrics"
	"codeberg.org/mutker/vawtctl/internal/mqtt"
	"codeberg.org/mutker/vawtctl/internal/telemetry"
	"codeberg.org/mutker/vawtctl/internal/turbine"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel          = string(LogLevelInfo)
	DefaultInterval          = 100 * time.Millisecond
	DefaultStarvationTimeout = 500 * time.Millisecond
	DefaultConfigPath        = "/etc/vawtctl.toml"
	DefaultEnvPrefix         = "VAWTCTL"
)

type Config struct {
	LogLevel string        `mapstructure:"log_level"`
	Interval time.Duration `mapstructure:"interval"`
	// StarvationTimeout is the oldest snapshot the loop accepts before
	// tripping to Fault.
	StarvationTimeout time.Duration `mapstructure:"starvation_timeout"`

	Turbine   turbine.Configuration `mapstructure:"turbine"`
	Source    SourceConfig          `mapstructure:"source"`
	Metrics   metrics.Config        `mapstructure:"metrics"`
	Telemetry telemetry.Config      `mapstructure:"telemetry"`
	MQTT      mqtt.Config           `mapstructure:"mqtt"`
}

type SourceConfig struct {
	Kind          SourceKind               `mapstructure:"kind"`
	Serial        acquisition.SerialConfig `mapstructure:"serial"`
	Plant         acquisition.PlantConfig  `mapstructure:"plant"`
	WindMean      float64                  `mapstructure:"wind_mean"`
	GustAmplitude float64                  `mapstructure:"gust_amplitude"`
	GustPeriod    time.Duration            `mapstructure:"gust_period"`
}

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"log-level":   "log_level",
	"interval":    "interval",
	"source":      "source.kind",
	"serial-port": "source.serial.port",
	"wind":        "source.wind_mean",
	"metrics-db":  "metrics.db_path",
	"mqtt-broker": "mqtt.broker",
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		LogLevel:          DefaultLogLevel,
		Interval:          DefaultInterval,
		StarvationTimeout: DefaultStarvationTimeout,
		Turbine:           turbine.DefaultConfiguration(),
		Source: SourceConfig{
			Kind:          SourceSimulator,
			Serial:        acquisition.DefaultSerial(),
			Plant:         acquisition.DefaultPlant(),
			WindMean:      7,
			GustAmplitude: 2,
			GustPeriod:    30 * time.Second,
		},
		Metrics:   metrics.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
		MQTT:      mqtt.DefaultConfig(),
	}
}

// Load resolves the configuration from defaults, the TOML file, VAWTCTL_*
// environment variables and bound flags, in increasing precedence, and
// validates it.
func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(o.envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if o.flags != nil {
		for name, key := range flagKeys {
			f := o.flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, errFactory.Wrap(errors.ErrBindFlags, err)
			}
		}
	}

	path, explicit := configPath(o)
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		// Only the default location may be absent
		if explicit || !os.IsNotExist(err) {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	cfg.Turbine.TickInterval = cfg.Interval

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval.String())
	}
	if c.StarvationTimeout < c.Interval {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field string
			Value string
		}{
			Field: "starvation_timeout",
			Value: c.StarvationTimeout.String(),
		})
	}
	if !c.Source.Kind.IsValid() {
		return errFactory.WithData(errors.ErrInvalidConfig, struct {
			Field string
			Value string
		}{
			Field: "source.kind",
			Value: string(c.Source.Kind),
		})
	}
	if err := c.Turbine.Validate(); err != nil {
		return err
	}
	if err := c.Metrics.Validate(); err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}
	if err := c.MQTT.Validate(); err != nil {
		return errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	return nil
}

// configPath picks the file to read and whether it was asked for explicitly.
func configPath(o options) (string, bool) {
	if o.configPath != "" {
		return o.configPath, true
	}
	if env := os.Getenv(o.envPrefix + "_CONFIG"); env != "" {
		return env, true
	}
	return DefaultConfigPath, false
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("interval", d.Interval)
	v.SetDefault("starvation_timeout", d.StarvationTimeout)

	t := d.Turbine
	v.SetDefault("turbine.rotor_radius", t.RotorRadius)
	v.SetDefault("turbine.rotor_height", t.RotorHeight)
	v.SetDefault("turbine.swept_area", t.SweptArea)
	v.SetDefault("turbine.air_density", t.AirDensity)
	v.SetDefault("turbine.optimal_tip_speed_ratio", t.OptimalTipSpeedRatio)
	v.SetDefault("turbine.rated_power", t.RatedPower)
	v.SetDefault("turbine.rated_rotor_speed", t.RatedRotorSpeed)
	v.SetDefault("turbine.overspeed_threshold", t.OverspeedThreshold)
	v.SetDefault("turbine.overvoltage_threshold", t.OvervoltageThreshold)
	v.SetDefault("turbine.overcurrent_threshold", t.OvercurrentThreshold)
	v.SetDefault("turbine.base_step", t.BaseStep)
	v.SetDefault("turbine.min_step", t.MinStep)
	v.SetDefault("turbine.turbulence_gain", t.TurbulenceGain)
	v.SetDefault("turbine.initial_duty", t.InitialDuty)
	v.SetDefault("turbine.min_duty", t.MinDuty)
	v.SetDefault("turbine.max_duty", t.MaxDuty)
	v.SetDefault("turbine.cut_in_wind_speed", t.CutInWindSpeed)
	v.SetDefault("turbine.cut_out_wind_speed", t.CutOutWindSpeed)
	v.SetDefault("turbine.regulation_enter_ratio", t.RegulationEnterRatio)
	v.SetDefault("turbine.regulation_exit_ratio", t.RegulationExitRatio)
	v.SetDefault("turbine.soft_stall.proportional_gain", t.SoftStall.ProportionalGain)
	v.SetDefault("turbine.soft_stall.integral_gain", t.SoftStall.IntegralGain)
	v.SetDefault("turbine.soft_stall.base_duty", t.SoftStall.BaseDuty)
	v.SetDefault("turbine.soft_stall.integral_limit", t.SoftStall.IntegralLimit)

	s := d.Source
	v.SetDefault("source.kind", string(s.Kind))
	v.SetDefault("source.wind_mean", s.WindMean)
	v.SetDefault("source.gust_amplitude", s.GustAmplitude)
	v.SetDefault("source.gust_period", s.GustPeriod)
	v.SetDefault("source.serial.port", s.Serial.Port)
	v.SetDefault("source.serial.baud", s.Serial.Baud)
	v.SetDefault("source.serial.pulses_per_rev", s.Serial.PulsesPerRev)
	v.SetDefault("source.serial.debounce", s.Serial.Debounce)
	v.SetDefault("source.serial.pulse_timeout", s.Serial.PulseTimeout)
	v.SetDefault("source.plant.inertia", s.Plant.Inertia)
	v.SetDefault("source.plant.damping", s.Plant.Damping)
	v.SetDefault("source.plant.rotor_radius", s.Plant.RotorRadius)
	v.SetDefault("source.plant.swept_area", s.Plant.SweptArea)
	v.SetDefault("source.plant.air_density", s.Plant.AirDensity)
	v.SetDefault("source.plant.torque_constant", s.Plant.TorqueConstant)
	v.SetDefault("source.plant.voltage_constant", s.Plant.VoltageConstant)
	v.SetDefault("source.plant.brake_torque", s.Plant.BrakeTorque)
	v.SetDefault("source.plant.step", s.Plant.Step)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.db_path", d.Metrics.DBPath)
	v.SetDefault("metrics.batch_size", d.Metrics.BatchSize)
	v.SetDefault("metrics.batch_timeout", d.Metrics.BatchTimeout)

	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.db_path", d.Telemetry.DBPath)

	v.SetDefault("mqtt.enabled", d.MQTT.Enabled)
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.username", d.MQTT.Username)
	v.SetDefault("mqtt.password", d.MQTT.Password)
	v.SetDefault("mqtt.topic_prefix", d.MQTT.TopicPrefix)
	v.SetDefault("mqtt.qos", d.MQTT.QoS)
	v.SetDefault("mqtt.sample_every", d.MQTT.SampleEvery)
}
