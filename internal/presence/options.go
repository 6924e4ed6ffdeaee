package presence

import (
	"slices"
	"time"

	"github.com/prudhvinik1/edgepresence/internal/models"
)

const (
	DefaultRecordPath     = "presence"
	DefaultRetryBaseDelay = time.Second
	DefaultMaxRetries     = 5
	DefaultAwayTimeout    = 5 * time.Minute

	// MaxRetryDelay caps the backoff whatever the configured base delay.
	MaxRetryDelay = 30 * time.Second
)

// Settings are the tunable options of a Service.
type Settings struct {
	RecordPath     string         `json:"recordPath"`
	RetryBaseDelay time.Duration  `json:"retryBaseDelay"`
	MaxRetries     int            `json:"maxRetries"`
	Debug          bool           `json:"debug"`
	AllowedStates  []models.State `json:"allowedStates"`
	AutoAway       bool           `json:"autoAway"`
	AwayTimeout    time.Duration  `json:"awayTimeout"`
}

// DefaultSettings returns the settings a Service starts from.
func DefaultSettings() Settings {
	return Settings{
		RecordPath:     DefaultRecordPath,
		RetryBaseDelay: DefaultRetryBaseDelay,
		MaxRetries:     DefaultMaxRetries,
		AllowedStates:  models.DefaultStates(),
		AutoAway:       true,
		AwayTimeout:    DefaultAwayTimeout,
	}
}

func (s Settings) clone() Settings {
	s.AllowedStates = slices.Clone(s.AllowedStates)
	return s
}

func (s Settings) allows(state models.State) bool {
	return slices.Contains(s.AllowedStates, state)
}

type Option func(*Settings)

func WithRecordPath(path string) Option {
	return func(s *Settings) { s.RecordPath = path }
}

func WithRetryBaseDelay(d time.Duration) Option {
	return func(s *Settings) { s.RetryBaseDelay = d }
}

func WithMaxRetries(n int) Option {
	return func(s *Settings) { s.MaxRetries = n }
}

func WithDebug(debug bool) Option {
	return func(s *Settings) { s.Debug = debug }
}

func WithAllowedStates(states ...models.State) Option {
	return func(s *Settings) { s.AllowedStates = slices.Clone(states) }
}

func WithAutoAway(enabled bool) Option {
	return func(s *Settings) { s.AutoAway = enabled }
}

func WithAwayTimeout(d time.Duration) Option {
	return func(s *Settings) { s.AwayTimeout = d }
}

// RetryDelay is base * 2^attempt, capped at MaxRetryDelay.
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= MaxRetryDelay || d <= 0 {
			return MaxRetryDelay
		}
	}
	return min(d, MaxRetryDelay)
}
