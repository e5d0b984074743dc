// ABOUTME: Task priority enumeration ordered None < Low < Normal < High < Urgent
// ABOUTME: Marshals to lowercase names and accepts names or ordinal numbers on input

package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Priority is a task's urgency. The zero value is PriorityNone.
type Priority uint8

const (
	PriorityNone Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityUrgent
)

var priorityNames = [...]string{"none", "low", "normal", "high", "urgent"}

// Valid reports whether p is one of the defined priorities.
func (p Priority) Valid() bool {
	return int(p) < len(priorityNames)
}

func (p Priority) String() string {
	if !p.Valid() {
		return "priority(" + strconv.Itoa(int(p)) + ")"
	}
	return priorityNames[p]
}

// ParsePriority accepts a case-insensitive name or an ordinal.
func ParsePriority(s string) (Priority, error) {
	s = strings.TrimSpace(s)
	for i, name := range priorityNames {
		if strings.EqualFold(s, name) {
			return Priority(i), nil
		}
	}
	n, err := strconv.Atoi(s)
	if err == nil && n >= 0 && n < len(priorityNames) {
		return Priority(n), nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid priority %d", p)
	}
	return []byte(priorityNames[p]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(text []byte) error {
	v, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// UnmarshalJSON accepts both "high" and 3.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		if n < 0 || n >= len(priorityNames) {
			return fmt.Errorf("unknown priority %d", n)
		}
		*p = Priority(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("priority must be a name or number: %w", err)
	}
	return p.UnmarshalText([]byte(s))
}
