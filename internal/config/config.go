// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package config loads the KEY=VALUE configuration file shared by the wrist
// and phone binaries.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// DefaultPath is the config file looked up by the binaries.
const DefaultPath = "./shot_detector_config.txt"

// EnvPrefix lets environment variables override file values,
// e.g. SHOT_MQTT_BROKER.
const EnvPrefix = "SHOT"

// Config holds all application configuration values.
type Config struct {
	LogLevel string

	// MQTT
	MQTTBroker          string
	MQTTClientIDWrist   string
	MQTTClientIDPhone   string
	MQTTClientIDConsole string

	// Link
	LinkTopicPrefix    string
	LinkWristNode      string
	LinkPhoneNode      string
	LinkChunkSize      int
	LinkPublishTimeout time.Duration
	LinkConfirmGrace   time.Duration
	LinkDrainTimeout   time.Duration

	// IMU hardware
	IMUSPIDevice string
	IMUCSPin     string
	// Accelerometer: 0=±2g, 1=±4g, 2=±8g, 3=±16g
	IMUAccelRange   byte
	IMUSampleRateHz int

	// Session
	MarkWindowLen int
	SessionPrefix string
	DetectorMode  string // record, research or test
	SwingType     string // practice, real or empty
	RemoteControl bool   // follow the phone's record state

	// Storage
	LogDir         string
	StagingDir     string
	InboxDir       string
	UnsortedFolder string

	// Trigger
	TriggerWord       string
	TriggerSerialPort string // empty reads stdin
	TriggerBaudRate   int

	// Web server, 0 disables
	WebServerPort int

	// Cue buzzer, empty pin logs cues only
	CueGPIOPin string
	CuePulse   time.Duration

	// Display
	DisplayEnabled        bool
	DisplayUpdateInterval time.Duration
}

// SampleInterval is the sensor period derived from IMUSampleRateHz.
func (c *Config) SampleInterval() time.Duration {
	return time.Second / time.Duration(c.IMUSampleRateHz)
}

var defaults = map[string]any{
	"LOG_LEVEL": "info",

	"MQTT_BROKER":            "tcp://localhost:1883",
	"MQTT_CLIENT_ID_WRIST":   "shot-wrist",
	"MQTT_CLIENT_ID_PHONE":   "shot-phone",
	"MQTT_CLIENT_ID_CONSOLE": "shot-console",

	"LINK_TOPIC_PREFIX":       "shot",
	"LINK_WRIST_NODE":         "wrist",
	"LINK_PHONE_NODE":         "phone",
	"LINK_CHUNK_SIZE":         32 * 1024,
	"LINK_PUBLISH_TIMEOUT_MS": 5000,
	"LINK_CONFIRM_GRACE_MS":   5000,
	"LINK_DRAIN_TIMEOUT_MS":   10000,

	"IMU_SPI_DEVICE":     "/dev/spidev0.0",
	"IMU_CS_PIN":         "8",
	"IMU_ACCEL_RANGE":    3,
	"IMU_SAMPLE_RATE_HZ": 100,

	"MARK_WINDOW_LEN": 200,
	"SESSION_PREFIX":  "address-collection-",
	"DETECTOR_MODE":   "record",
	"SWING_TYPE":      "",
	"REMOTE_CONTROL":  true,

	"LOG_DIR":         "./sessions",
	"STAGING_DIR":     "./staging",
	"INBOX_DIR":       "./inbox",
	"UNSORTED_FOLDER": "Address-Detection",

	"TRIGGER_WORD":        "mark",
	"TRIGGER_SERIAL_PORT": "",
	"TRIGGER_BAUD_RATE":   115200,

	"WEB_SERVER_PORT": 8080,

	"CUE_GPIO_PIN": "",
	"CUE_PULSE_MS": 80,

	"DISPLAY_ENABLED":         false,
	"DISPLAY_UPDATE_INTERVAL": 200,
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg, err := decode(newViper())
	if err != nil {
		panic(fmt.Sprintf("config: defaults invalid: %v", err))
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	return v
}

// Load reads the configuration file at path. Keys not set in the file keep
// their defaults; unknown keys are an error.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var unknown []string
	for _, k := range v.AllKeys() {
		if _, ok := defaults[strings.ToUpper(k)]; !ok {
			unknown = append(unknown, strings.ToUpper(k))
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown config key(s): %s", strings.Join(unknown, ", "))
	}

	return decode(v)
}

// decoder collects the first conversion error.
type decoder struct {
	v   *viper.Viper
	err error
}

func (d *decoder) str(key string) string {
	return strings.TrimSpace(d.v.GetString(key))
}

func (d *decoder) int(key string, lo, hi int) int {
	n, err := cast.ToIntE(strings.TrimSpace(cast.ToString(d.v.Get(key))))
	if err != nil {
		d.fail(fmt.Errorf("invalid %s %q: %w", key, d.v.GetString(key), err))
		return 0
	}
	if n < lo || n > hi {
		d.fail(fmt.Errorf("%s must be %d-%d, got %d", key, lo, hi, n))
	}
	return n
}

func (d *decoder) bool(key string) bool {
	b, err := cast.ToBoolE(strings.TrimSpace(cast.ToString(d.v.Get(key))))
	if err != nil {
		d.fail(fmt.Errorf("invalid %s %q: %w", key, d.v.GetString(key), err))
	}
	return b
}

func (d *decoder) millis(key string, lo, hi int) time.Duration {
	return time.Duration(d.int(key, lo, hi)) * time.Millisecond
}

func (d *decoder) oneOf(key string, allowed ...string) string {
	s := strings.ToLower(d.str(key))
	for _, a := range allowed {
		if s == a {
			return s
		}
	}
	d.fail(fmt.Errorf("%s must be one of %q, got %q", key, allowed, s))
	return s
}

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}

func decode(v *viper.Viper) (*Config, error) {
	d := &decoder{v: v}
	c := &Config{
		LogLevel: d.oneOf("LOG_LEVEL", "debug", "info", "warn", "error"),

		MQTTBroker:          d.str("MQTT_BROKER"),
		MQTTClientIDWrist:   d.str("MQTT_CLIENT_ID_WRIST"),
		MQTTClientIDPhone:   d.str("MQTT_CLIENT_ID_PHONE"),
		MQTTClientIDConsole: d.str("MQTT_CLIENT_ID_CONSOLE"),

		LinkTopicPrefix:    d.str("LINK_TOPIC_PREFIX"),
		LinkWristNode:      d.str("LINK_WRIST_NODE"),
		LinkPhoneNode:      d.str("LINK_PHONE_NODE"),
		LinkChunkSize:      d.int("LINK_CHUNK_SIZE", 256, 256*1024),
		LinkPublishTimeout: d.millis("LINK_PUBLISH_TIMEOUT_MS", 100, 60000),
		LinkConfirmGrace:   d.millis("LINK_CONFIRM_GRACE_MS", 0, 600000),
		LinkDrainTimeout:   d.millis("LINK_DRAIN_TIMEOUT_MS", 0, 600000),

		IMUSPIDevice:    d.str("IMU_SPI_DEVICE"),
		IMUCSPin:        d.str("IMU_CS_PIN"),
		IMUAccelRange:   byte(d.int("IMU_ACCEL_RANGE", 0, 3)),
		IMUSampleRateHz: d.int("IMU_SAMPLE_RATE_HZ", 1, 1000),

		MarkWindowLen: d.int("MARK_WINDOW_LEN", 1, 100000),
		SessionPrefix: d.str("SESSION_PREFIX"),
		DetectorMode:  d.oneOf("DETECTOR_MODE", "record", "research", "test"),
		SwingType:     d.oneOf("SWING_TYPE", "", "practice", "real"),
		RemoteControl: d.bool("REMOTE_CONTROL"),

		LogDir:         d.str("LOG_DIR"),
		StagingDir:     d.str("STAGING_DIR"),
		InboxDir:       d.str("INBOX_DIR"),
		UnsortedFolder: d.str("UNSORTED_FOLDER"),

		TriggerWord:       d.str("TRIGGER_WORD"),
		TriggerSerialPort: d.str("TRIGGER_SERIAL_PORT"),
		TriggerBaudRate:   d.int("TRIGGER_BAUD_RATE", 1200, 4000000),

		WebServerPort: d.int("WEB_SERVER_PORT", 0, 65535),

		CueGPIOPin: d.str("CUE_GPIO_PIN"),
		CuePulse:   d.millis("CUE_PULSE_MS", 1, 2000),

		DisplayEnabled:        d.bool("DISPLAY_ENABLED"),
		DisplayUpdateInterval: d.millis("DISPLAY_UPDATE_INTERVAL", 20, 60000),
	}
	if d.err != nil {
		return nil, d.err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	switch {
	case c.MQTTBroker == "":
		return fmt.Errorf("MQTT_BROKER is required")
	case c.LinkTopicPrefix == "" || strings.ContainsAny(c.LinkTopicPrefix, "#+"):
		return fmt.Errorf("LINK_TOPIC_PREFIX %q is not a valid topic prefix", c.LinkTopicPrefix)
	case c.LinkWristNode == "" || c.LinkPhoneNode == "":
		return fmt.Errorf("LINK_WRIST_NODE and LINK_PHONE_NODE are required")
	case c.LinkWristNode == c.LinkPhoneNode:
		return fmt.Errorf("LINK_WRIST_NODE and LINK_PHONE_NODE must differ")
	case strings.ContainsAny(c.LinkWristNode+c.LinkPhoneNode, "/#+"):
		return fmt.Errorf("link node names must not contain '/', '#' or '+'")
	case c.SessionPrefix == "" || strings.ContainsAny(c.SessionPrefix, `/\`):
		return fmt.Errorf("SESSION_PREFIX %q is not a valid file name prefix", c.SessionPrefix)
	case c.TriggerWord == "":
		return fmt.Errorf("TRIGGER_WORD is required")
	case c.UnsortedFolder == "" || strings.ContainsAny(c.UnsortedFolder, `/\`):
		return fmt.Errorf("UNSORTED_FOLDER %q must be a single folder name", c.UnsortedFolder)
	}
	return nil
}
