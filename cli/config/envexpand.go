// Package config handles ferry.yaml loading for the ferry commands.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
)

// envVarPattern matches ${VAR}, ${VAR:-default} and ${VAR:?message} patterns.
// - ${VAR} expands to the env var value, or empty string if unset
// - ${VAR:-default} expands to the env var value, or "default" if unset/empty
// - ${VAR:?message} expands to the env var value, or fails with message if unset/empty
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?:(:-|:\?)([^}]*))?\}`)

// ExpandEnv replaces ${VAR}, ${VAR:-default} and ${VAR:?message} patterns in
// the input string with their corresponding environment variable values.
//
// Unset variables without an operator expand to empty string. Every missing
// required variable is reported in the returned error.
func ExpandEnv(input string) (string, error) {
	var errs []error
	out := envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 4 {
			return match
		}

		varName, op, arg := groups[1], groups[2], groups[3]
		if value, ok := os.LookupEnv(varName); ok && value != "" {
			return value
		}

		switch op {
		case ":-":
			return arg
		case ":?":
			if arg == "" {
				arg = "required but not set"
			}
			errs = append(errs, fmt.Errorf("%s: %s", varName, arg))
		}
		return ""
	})
	return out, errors.Join(errs...)
}
