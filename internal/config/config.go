// Package config resolves daemon settings from flags with an environment
// variable fallback, the minimal ambient substitute for Postfix's
// "$name"-expanding main.cf parsing (spec.md §1 Non-goal, SPEC_FULL §2
// "Configuration").
//
// Flags take precedence; when a flag is left at its zero value, the
// POSTFIXPROXY_-prefixed environment variable is consulted before falling
// back to the default the caller passes in (def). Bool instead keys on
// whether the flag was explicitly set.
package config

import (
	"os"
	"strconv"
	"time"
)

const envPrefix = "POSTFIXPROXY_"

// String resolves a string setting: flagValue if non-empty, else the
// environment variable envName, else def.
func String(flagValue, envName, def string) string {
	if flagValue != "" {
		return flagValue
	}
	if v, ok := os.LookupEnv(envPrefix + envName); ok {
		return v
	}
	return def
}

// Int resolves an integer setting the same way as String, parsing the
// environment variable as a base-10 integer. A malformed environment
// value falls back to def.
func Int(flagValue int, envName string, def int) int {
	if flagValue != 0 {
		return flagValue
	}
	if v, ok := os.LookupEnv(envPrefix + envName); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Bool resolves a boolean setting: flagSet reports whether the flag was
// explicitly passed on the command line (callers check cmd.Flags().Changed
// for this), in which case flagValue wins outright; otherwise the
// environment variable, then def.
func Bool(flagValue bool, flagSet bool, envName string, def bool) bool {
	if flagSet {
		return flagValue
	}
	if v, ok := os.LookupEnv(envPrefix + envName); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Duration resolves a time.Duration setting the same way as Int: flagValue
// if non-zero, else the environment variable envName parsed with
// time.ParseDuration, else def.
func Duration(flagValue time.Duration, envName string, def time.Duration) time.Duration {
	if flagValue != 0 {
		return flagValue
	}
	if v, ok := os.LookupEnv(envPrefix + envName); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
