// Package settings adapts the host's configuration surface into the two
// tunables the dispatcher reads at mode-setup time: the combo window and
// the chord-trailing-pair force-throttle duration.
package settings

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

const (
	// DefaultComboWindowMS is used when the host settings adapter has no
	// "input_map_combo_window" entry.
	DefaultComboWindowMS = 300
	// DefaultChordTailThrottleMS is the window both halves of a pair base
	// stay suppressed after a chord ends on one.
	DefaultChordTailThrottleMS = 90
)

// Provider is the host-side settings lookup: a value for key, or false
// when the host has none configured.
type Provider interface {
	Get(key string) (int, bool)
}

// Settings bundles the handful of tunables the engine reads from a Provider.
type Settings struct {
	ComboWindowMS       int
	ChordTailThrottleMS int
}

// Resolve reads both tunables from p, falling back to defaults when absent.
func Resolve(p Provider) Settings {
	s := Settings{
		ComboWindowMS:       DefaultComboWindowMS,
		ChordTailThrottleMS: DefaultChordTailThrottleMS,
	}
	if p == nil {
		return s
	}
	if v, ok := p.Get("input_map_combo_window"); ok {
		s.ComboWindowMS = v
	}
	if v, ok := p.Get("input_map_chord_tail_throttle"); ok {
		s.ChordTailThrottleMS = v
	}
	return s
}

// EnvProvider reads settings from the process environment, optionally
// preloaded from a .env file via godotenv.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider loads envPath (if non-empty) into the process environment
// with godotenv and returns a Provider keyed by upper-cased env var names.
// Missing .env files are not an error: the host may configure entirely via
// real environment variables.
func NewEnvProvider(envPath string) *EnvProvider {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	}
	return &EnvProvider{}
}

// Get implements Provider by looking up INPUT_MAP_COMBO_WINDOW-style
// upper-snake-case environment variables.
func (e *EnvProvider) Get(key string) (int, bool) {
	envKey := toEnvKey(key)
	raw, ok := os.LookupEnv(envKey)
	if !ok || raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func toEnvKey(key string) string {
	out := make([]byte, len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}
