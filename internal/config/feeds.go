package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	SinkPositions    = "positions"
	SinkDirections   = "directions"
	SinkVehicleState = "vehicle_state"
	SinkNATS         = "nats"
	SinkJobLog       = "job_log"
)

// DefaultSinks applies to feeds that do not list their own.
var DefaultSinks = []string{SinkPositions, SinkDirections, SinkVehicleState, SinkNATS, SinkJobLog}

type FeedsFile struct {
	Feeds []Feed `yaml:"feeds" validate:"required,min=1,unique=Name,dive"`
}

type Feed struct {
	Name             string    `yaml:"name" validate:"required,max=64,excludesall=.*>"`
	Kind             string    `yaml:"kind" validate:"required,oneof=window lastposition gtfsrt"`
	URL              string    `yaml:"url" validate:"required,url"`
	IntervalSec      int       `yaml:"interval_sec" validate:"gte=0"`
	WindowMin        int       `yaml:"window_min" validate:"gte=0"`
	CatchupWindowMin int       `yaml:"catchup_window_min" validate:"gte=0"`
	RatePerSec       float64   `yaml:"rate_per_sec" validate:"gte=0"`
	Auth             *FeedAuth `yaml:"auth" validate:"required_if=Kind lastposition"`
	Sinks            []string  `yaml:"sinks" validate:"omitempty,dive,oneof=positions directions vehicle_state nats job_log"`
}

type FeedAuth struct {
	LoginURL      string `yaml:"login_url" validate:"required,url"`
	UsernameEnv   string `yaml:"username_env" validate:"required"`
	PasswordEnv   string `yaml:"password_env" validate:"required"`
	ClientCodeEnv string `yaml:"client_code_env"`
	TokenTTLMin   int    `yaml:"token_ttl_min" validate:"gte=0"`
}

// LoadFeeds reads and validates a feeds file.
func LoadFeeds(path string) ([]Feed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read feeds file: %w", err)
	}
	return ParseFeeds(data)
}

func ParseFeeds(data []byte) ([]Feed, error) {
	var ff FeedsFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("decode feeds file: %w", err)
	}
	v := validator.New()
	if err := v.Struct(ff); err != nil {
		return nil, fmt.Errorf("invalid feeds file: %w", err)
	}
	return ff.Feeds, nil
}

// EffectiveSinks returns the configured sinks or DefaultSinks.
func (f Feed) EffectiveSinks() []string {
	if len(f.Sinks) == 0 {
		return DefaultSinks
	}
	return f.Sinks
}

func (f Feed) HasSink(name string) bool {
	for _, s := range f.EffectiveSinks() {
		if s == name {
			return true
		}
	}
	return false
}

// Interval, Window and CatchupWindow fall back to the global defaults.
func (f Feed) Interval(def time.Duration) time.Duration {
	if f.IntervalSec > 0 {
		return time.Duration(f.IntervalSec) * time.Second
	}
	return def
}

func (f Feed) Window(def time.Duration) time.Duration {
	if f.WindowMin > 0 {
		return time.Duration(f.WindowMin) * time.Minute
	}
	return def
}

func (f Feed) CatchupWindow(def time.Duration) time.Duration {
	if f.CatchupWindowMin > 0 {
		return time.Duration(f.CatchupWindowMin) * time.Minute
	}
	return def
}

// Credentials resolves the auth env var names to their values.
func (a FeedAuth) Credentials() (username, password, clientCode string) {
	return os.Getenv(a.UsernameEnv), os.Getenv(a.PasswordEnv), os.Getenv(a.ClientCodeEnv)
}

func (a FeedAuth) TokenTTL() time.Duration {
	if a.TokenTTLMin > 0 {
		return time.Duration(a.TokenTTLMin) * time.Minute
	}
	return 5 * time.Hour
}
