package model

import (
	"errors"
	"fmt"
	"strings"
)

// Environment namespaces all state, backups and catalog entries.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// AllEnvironments is the fixed set of environments, in promotion order.
var AllEnvironments = []Environment{EnvDevelopment, EnvStaging, EnvProduction}

var environmentAliases = map[string]Environment{
	"development": EnvDevelopment,
	"dev":         EnvDevelopment,
	"staging":     EnvStaging,
	"stage":       EnvStaging,
	"production":  EnvProduction,
	"prod":        EnvProduction,
}

// ErrUnknownEnvironment is returned by ParseEnvironment for names outside the fixed set.
var ErrUnknownEnvironment = errors.New("unknown environment")

// ParseEnvironment resolves a name or alias (dev, stage, prod) to its canonical Environment.
func ParseEnvironment(s string) (Environment, error) {
	env, ok := environmentAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("%w %q (want development, staging or production)", ErrUnknownEnvironment, s)
	}
	return env, nil
}

// ParseEnvironmentScope is like ParseEnvironment but also accepts "all",
// returning every environment.
func ParseEnvironmentScope(s string) ([]Environment, error) {
	if strings.EqualFold(strings.TrimSpace(s), "all") {
		return append([]Environment(nil), AllEnvironments...), nil
	}
	env, err := ParseEnvironment(s)
	if err != nil {
		return nil, err
	}
	return []Environment{env}, nil
}

func (e Environment) String() string { return string(e) }

// Valid reports whether e is one of the canonical environments.
func (e Environment) Valid() bool {
	switch e {
	case EnvDevelopment, EnvStaging, EnvProduction:
		return true
	}
	return false
}
