// Package society defines the fixed set of cooperation policies an agent can
// belong to. Each society has a stable single-digit code used to encode
// interaction history.
package society

import (
	"fmt"
	"strings"
)

// Society is a cooperation policy. The numeric value is the history code.
type Society uint8

const (
	Saints    Society = iota // Cooperate with everyone
	Buddies                  // Cooperate only with other Buddies
	FightClub                // Cooperate only with outsiders
	Vandals                  // Never cooperate
)

// AlphabetSize is the number of societies, and so the base of the history
// encoding.
const AlphabetSize = 4

// All lists every society in code order.
var All = [AlphabetSize]Society{Saints, Buddies, FightClub, Vandals}

var names = [AlphabetSize]string{"Saints", "Buddies", "Fight Club", "Vandals"}

// Valid reports whether s is one of the enumerated societies.
func (s Society) Valid() bool {
	return s < AlphabetSize
}

// Code returns the society's history digit ('0'–'3').
func (s Society) Code() byte {
	return '0' + byte(s)
}

// String returns the display name.
func (s Society) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Society(%d)", uint8(s))
	}
	return names[s]
}

// FromCode converts a history digit back into a Society.
func FromCode(c byte) (Society, error) {
	if c < '0' || c >= '0'+AlphabetSize {
		return 0, fmt.Errorf("invalid society code %q", c)
	}
	return Society(c - '0'), nil
}

// Parse accepts a display name (case and spacing insensitive) or a digit code.
func Parse(v string) (Society, error) {
	v = strings.TrimSpace(v)
	if len(v) == 1 {
		if s, err := FromCode(v[0]); err == nil {
			return s, nil
		}
	}
	key := normalize(v)
	for _, s := range All {
		if normalize(names[s]) == key {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown society %q", v)
}

func normalize(v string) string {
	v = strings.ToLower(v)
	v = strings.ReplaceAll(v, " ", "")
	v = strings.ReplaceAll(v, "_", "")
	return strings.ReplaceAll(v, "-", "")
}

// MarshalText encodes the society by name so JSON and YAML stay readable.
func (s Society) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid society %d", uint8(s))
	}
	return []byte(names[s]), nil
}

// UnmarshalText is the inverse of MarshalText.
func (s *Society) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
