// Package environment maps deployment tiers of the verification backend to
// their base URLs.
package environment

import (
	"fmt"
	"strings"

	"github.com/eternisai/purchases-bridge/internal/errors"
)

// Environment is a named deployment tier.
type Environment string

const (
	Staging    Environment = "STAGING"
	Production Environment = "PRODUCTION"
)

var baseURLs = map[Environment]string{
	Staging:    "https://api.staging.linkfive.io/api",
	Production: "https://api.linkfive.io/api",
}

// All returns every known environment.
func All() []Environment {
	return []Environment{Staging, Production}
}

// Parse validates name. Matching is exact apart from surrounding whitespace.
func Parse(name string) (Environment, error) {
	env := Environment(strings.TrimSpace(name))
	if _, ok := baseURLs[env]; !ok {
		return "", fmt.Errorf("%w: %q", errors.ErrInvalidEnvironment, name)
	}
	return env, nil
}

// Resolve returns the base URL for the named environment.
func Resolve(name string) (string, error) {
	env, err := Parse(name)
	if err != nil {
		return "", err
	}
	return env.BaseURL(), nil
}

// BaseURL returns the base URL, or "" for an unknown environment.
func (e Environment) BaseURL() string {
	return baseURLs[e]
}

func (e Environment) String() string {
	return string(e)
}
