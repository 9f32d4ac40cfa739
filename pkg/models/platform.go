// Package models defines the domain records shared by the inbox: activities
// received from external platforms, workflow triggers and their executions.
package models

import (
	"errors"
	"fmt"
	"strings"
)

// Platform identifies the external service an activity was received from.
type Platform string

const (
	PlatformMattermost Platform = "mattermost"
	PlatformTrello     Platform = "trello"
	PlatformFlock      Platform = "flock"
)

// ErrUnknownPlatform is returned when a platform name is not supported.
var ErrUnknownPlatform = errors.New("unknown platform")

// Platforms lists every supported platform.
func Platforms() []Platform {
	return []Platform{PlatformMattermost, PlatformTrello, PlatformFlock}
}

// ParsePlatform converts a case-insensitive name into a Platform.
func ParsePlatform(name string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(name)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPlatform, name)
	}

	return p, nil
}

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformMattermost, PlatformTrello, PlatformFlock:
		return true
	default:
		return false
	}
}

func (p Platform) String() string {
	return string(p)
}
