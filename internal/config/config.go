// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ffutop/mbus-gateway/mbus"
	"github.com/ffutop/mbus-gateway/mbus/record"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultBaudRate       = 2400
	DefaultUpdateInterval = 60 * time.Second
	DefaultTick           = 10 * time.Millisecond
	DefaultRetries        = 3

	maxStorage = 0x1FFFFFFFFFF
	maxTariff  = 0xFFFFF
	maxSubunit = 0x3FF
)

// Config defines the global configuration structure
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Store   StoreConfig   `mapstructure:"store"`
	Buses   []BusConfig   `mapstructure:"buses"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// MetricsConfig defines the Prometheus exposition endpoint. An empty address
// disables it.
type MetricsConfig struct {
	Address string `mapstructure:"address"`
	Path    string `mapstructure:"path"`
}

// StoreConfig defines where the last valid telegram of every meter is kept
type StoreConfig struct {
	Type  string `mapstructure:"type"`  // "", "memory", "file", "mmap"
	Path  string `mapstructure:"path"`  // File path for "file/mmap" type
	Slots int    `mapstructure:"slots"` // Number of meters the file can hold
}

// BusConfig defines one physical M-Bus line and the meters on it
type BusConfig struct {
	Name      string        `mapstructure:"name"`
	Transport string        `mapstructure:"transport"` // "serial", "tcp"
	Serial    SerialConfig  `mapstructure:"serial"`    // Used if Transport is "serial"
	Tcp       TcpConfig     `mapstructure:"tcp"`       // Used if Transport is "tcp"
	Tick      time.Duration `mapstructure:"tick"`      // Scheduler loop period
	Retries   int           `mapstructure:"retries"`   // Attempts per poll cycle
	Meters    []MeterConfig `mapstructure:"meters"`
}

// BaudRate is the line speed timeouts are derived from.
func (b *BusConfig) BaudRate() int {
	if b.Transport == "tcp" {
		return b.Tcp.BaudRate
	}
	return b.Serial.BaudRate
}

// MeterConfig defines one meter selected by its secondary address
type MeterConfig struct {
	Name             string         `mapstructure:"name"`
	SecondaryAddress string         `mapstructure:"secondary_address"`
	UpdateInterval   time.Duration  `mapstructure:"update_interval"`
	Sensors          []SensorConfig `mapstructure:"sensors"`
}

// Address parses SecondaryAddress.
func (m *MeterConfig) Address() (mbus.Address, error) {
	return mbus.ParseAddress(m.SecondaryAddress)
}

// SensorConfig selects one data record of a meter's telegram
type SensorConfig struct {
	Name     string `mapstructure:"name"`
	Storage  uint64 `mapstructure:"storage"`
	Function string `mapstructure:"function"` // instant, maximum, minimum, error
	Tariff   uint32 `mapstructure:"tariff"`
	Subunit  uint32 `mapstructure:"subunit"`
	VIF      string `mapstructure:"vif"` // VIF and VIFE bytes, e.g. "0xFD17"
}

// Descriptor builds the record selector the sensor matches against.
func (s *SensorConfig) Descriptor() (record.Descriptor, error) {
	var d record.Descriptor
	if s.Storage > maxStorage {
		return d, fmt.Errorf("storage %d out of range", s.Storage)
	}
	if s.Tariff > maxTariff {
		return d, fmt.Errorf("tariff %d out of range", s.Tariff)
	}
	if s.Subunit > maxSubunit {
		return d, fmt.Errorf("subunit %d out of range", s.Subunit)
	}
	fn, err := record.ParseFunction(s.Function)
	if err != nil {
		return d, err
	}
	if s.VIF == "" {
		return d, errors.New("vif is required")
	}
	vif, err := parseVIF(s.VIF)
	if err != nil {
		return d, err
	}
	return record.Descriptor{
		Storage:  s.Storage,
		Function: fn,
		Tariff:   s.Tariff,
		Subunit:  s.Subunit,
		VIF:      vif,
	}, nil
}

// TcpConfig defines a transparent TCP to M-Bus level converter
type TcpConfig struct {
	Address  string        `mapstructure:"address"` // e.g. "192.168.1.100:10001"
	BaudRate int           `mapstructure:"baud_rate"`
	Timeout  time.Duration `mapstructure:"timeout"` // Dial timeout
}

// SerialConfig defines serial line settings
type SerialConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"` // Read timeout of the reader goroutine
}

// Flags returns the command line flags understood by LoadConfig.
func Flags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", "", "Configuration file path.")
	fs.StringP("log_level", "v", "info", "Log verbosity level (debug, info, warn, error).")
	fs.StringP("log_file", "L", "", "Log file name ('-' for logging to STDOUT only).")
	fs.StringP("metrics_address", "m", "", "Address to expose Prometheus metrics on, empty to disable.")
	return fs
}

// LoadConfig loads configuration from command line arguments and the
// configuration file.
func LoadConfig(args []string) (*Config, error) {
	fs := Flags("mbusgw")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("store.slots", 64)

	for key, flag := range map[string]string{
		"log.level":       "log_level",
		"log.file":        "log_file",
		"metrics.address": "metrics_address",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("failed to bind pflags: %w", err)
		}
	}

	configFile, _ := fs.GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/mbusgw/")
		v.AddConfigPath("$HOME/.mbusgw")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		return nil, fmt.Errorf("failed to find config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.fixup()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) fixup() {
	c.Store.Type = strings.ToLower(c.Store.Type)
	for i := range c.Buses {
		bus := &c.Buses[i]
		bus.Transport = strings.ToLower(bus.Transport)
		if bus.Transport == "" {
			bus.Transport = "serial"
		}
		if bus.Tick == 0 {
			bus.Tick = DefaultTick
		}
		if bus.Retries == 0 {
			bus.Retries = DefaultRetries
		}
		fixupSerial(&bus.Serial)
		if bus.Tcp.BaudRate == 0 {
			bus.Tcp.BaudRate = DefaultBaudRate
		}
		if bus.Tcp.Timeout == 0 {
			bus.Tcp.Timeout = 10 * time.Second
		}

		for j := range bus.Meters {
			m := &bus.Meters[j]
			if m.SecondaryAddress == "" {
				m.SecondaryAddress = "0x" + mbus.Wildcard.String()
			}
			if m.UpdateInterval == 0 {
				m.UpdateInterval = DefaultUpdateInterval
			}
			for k := range m.Sensors {
				s := &m.Sensors[k]
				if s.Function == "" {
					s.Function = record.Instant.String()
				}
			}
		}
	}
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Parity == "" {
		s.Parity = "E"
	}
	if s.BaudRate == 0 {
		s.BaudRate = DefaultBaudRate
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.StopBits == 0 {
		s.StopBits = 1
	}
	if s.Timeout == 0 {
		s.Timeout = 100 * time.Millisecond
	}
}

// Validate checks names, addresses and record selectors.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "", "memory":
	case "file", "mmap":
		if c.Store.Path == "" {
			return fmt.Errorf("store: %s requires a path", c.Store.Type)
		}
	default:
		return fmt.Errorf("store: unknown type %q", c.Store.Type)
	}

	if len(c.Buses) == 0 {
		return errors.New("no buses configured")
	}
	buses := make(map[string]bool)
	for _, bus := range c.Buses {
		if bus.Name == "" {
			return errors.New("bus without name")
		}
		if buses[bus.Name] {
			return fmt.Errorf("duplicate bus %q", bus.Name)
		}
		buses[bus.Name] = true

		switch bus.Transport {
		case "serial":
			if bus.Serial.Device == "" {
				return fmt.Errorf("bus %s: serial device is required", bus.Name)
			}
			if !strings.Contains("NEO", bus.Serial.Parity) || len(bus.Serial.Parity) != 1 {
				return fmt.Errorf("bus %s: invalid parity %q", bus.Name, bus.Serial.Parity)
			}
		case "tcp":
			if bus.Tcp.Address == "" {
				return fmt.Errorf("bus %s: tcp address is required", bus.Name)
			}
		default:
			return fmt.Errorf("bus %s: unknown transport %q", bus.Name, bus.Transport)
		}
		if bus.Retries < 0 {
			return fmt.Errorf("bus %s: retries must be positive", bus.Name)
		}

		meters := make(map[string]bool)
		for _, m := range bus.Meters {
			if m.Name == "" {
				return fmt.Errorf("bus %s: meter without name", bus.Name)
			}
			if meters[m.Name] {
				return fmt.Errorf("bus %s: duplicate meter %q", bus.Name, m.Name)
			}
			meters[m.Name] = true
			if _, err := m.Address(); err != nil {
				return fmt.Errorf("meter %s: %w", m.Name, err)
			}

			sensors := make(map[string]bool)
			for _, s := range m.Sensors {
				if s.Name == "" {
					return fmt.Errorf("meter %s: sensor without name", m.Name)
				}
				if sensors[s.Name] {
					return fmt.Errorf("meter %s: duplicate sensor %q", m.Name, s.Name)
				}
				sensors[s.Name] = true
				if _, err := s.Descriptor(); err != nil {
					return fmt.Errorf("sensor %s.%s: %w", m.Name, s.Name, err)
				}
			}
		}
	}
	return nil
}

// parseVIF reads the VIF and VIFE bytes as one big-endian hex number.
func parseVIF(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid vif %q: %w", s, err)
	}
	return v, nil
}
