// Package model provides domain types shared across packages.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role selects which backing corpus and dataset bucket a request uses.
type Role string

const (
	RoleGlobal Role = "Global"
	RoleChina  Role = "China"
	RoleKorea  Role = "Korea"
)

// Roles lists the supported user roles.
func Roles() []Role {
	return []Role{RoleGlobal, RoleChina, RoleKorea}
}

// ParseRole parses a role string (case-insensitive).
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "global":
		return RoleGlobal, nil
	case "china":
		return RoleChina, nil
	case "korea":
		return RoleKorea, nil
	default:
		return "", fmt.Errorf("invalid role %q: choose Global, China or Korea", s)
	}
}

// String returns the canonical role name.
func (r Role) String() string { return string(r) }

// Turn is one prior conversation turn in the wire form the CLI and HTTP
// surfaces accept: {role, parts:[{text}]}.
type Turn struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part is a single text segment of a turn.
type Part struct {
	Text string `json:"text"`
}

// Text joins a turn's segments into one string.
func (t Turn) Text() string {
	segments := make([]string, 0, len(t.Parts))
	for _, p := range t.Parts {
		segments = append(segments, p.Text)
	}
	return strings.Join(segments, "\n")
}

// ParseHistory decodes a history JSON string into turns. Empty input yields
// an empty history rather than an error.
func ParseHistory(raw string) ([]Turn, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var turns []Turn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		return nil, fmt.Errorf("invalid history JSON: %w", err)
	}
	return turns, nil
}
