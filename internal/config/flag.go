package config

import "strings"

// Flag is a boolean setting. Only 1, true, True, YES and yes enable it; any
// other value disables it.
type Flag bool

// ParseFlag interprets s as a Flag.
func ParseFlag(s string) Flag {
	switch strings.TrimSpace(s) {
	case "1", "true", "True", "YES", "yes":
		return true
	}
	return false
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *Flag) UnmarshalText(text []byte) error {
	*f = ParseFlag(string(text))
	return nil
}
