// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"regexp"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes the environment variable of every option:
// service_name is read from BUREAU_APM_SERVICE_NAME.
const EnvPrefix = "BUREAU_APM_"

// environmentsKey holds per-environment sections in the YAML file.
const environmentsKey = "environments"

// LoadOptions selects the sources Load reads. Sources apply in field
// order, later ones overriding earlier ones, all on top of Default().
type LoadOptions struct {
	// File is an optional YAML file of option names to values. A
	// top-level "environments" map may hold a section per environment
	// name; the section matching the effective environment applies
	// over the file's top level. String values expand ${VAR} and
	// ${VAR:-default}.
	File string

	// DotEnvFile is an optional .env file of BUREAU_APM_* variables.
	// It is read without modifying the process environment.
	DotEnvFile string

	// Environ is the process environment in os.Environ form. Nil
	// means os.Environ().
	Environ []string

	// Overrides are applied last, keyed by option name.
	Overrides map[string]string

	// Logger receives warnings about ignored keys and invalid values.
	Logger *slog.Logger
}

// Load builds a snapshot from the configured sources. It fails only
// when a named file cannot be read or parsed.
func Load(options LoadOptions) (*Config, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	environ := options.Environ
	if environ == nil {
		environ = os.Environ()
	}
	environment := environMap(environ)

	var fileValues map[string]string
	var fileSections map[string]map[string]string
	if options.File != "" {
		var err error
		fileValues, fileSections, err = readYAML(options.File, environment, logger)
		if err != nil {
			return nil, err
		}
	}

	var dotEnvValues map[string]string
	if options.DotEnvFile != "" {
		values, err := godotenv.Read(options.DotEnvFile)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", options.DotEnvFile, err)
		}
		dotEnvValues = prefixedValues(values)
	}
	envValues := prefixedValues(environment)

	layers := []struct {
		source string
		values map[string]string
	}{
		{options.File, fileValues},
		{options.File + " (environment section)", nil},
		{options.DotEnvFile, dotEnvValues},
		{"environment", envValues},
		{"overrides", options.Overrides},
	}

	// The environment section is chosen by the environment the other
	// sources settle on, so resolve that before applying anything.
	effective := Default().Environment
	for _, layer := range layers {
		if value, ok := layer.values["environment"]; ok {
			effective = value
		}
	}
	layers[1].values = fileSections[effective]

	config := Default()
	for _, layer := range layers {
		config.apply(layer.source, layer.values, logger)
	}
	return config, nil
}

// apply sets every value on c in name order, logging and skipping
// unknown names and invalid values.
func (c *Config) apply(source string, values map[string]string, logger *slog.Logger) {
	for _, name := range slices.Sorted(maps.Keys(values)) {
		if err := c.Set(name, values[name]); err != nil {
			logger.Warn("ignoring configuration value",
				"source", source,
				"option", name,
				"error", err,
			)
		}
	}
}

// readYAML reads the option file into its top-level values and its
// per-environment sections.
func readYAML(path string, environment map[string]string, logger *slog.Logger) (map[string]string, map[string]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading config file: %w", err)
	}
	var document map[string]any
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	sections := make(map[string]map[string]string)
	if raw, ok := document[environmentsKey]; ok {
		delete(document, environmentsKey)
		byName, ok := raw.(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("parsing %s: %q must be a map of environment names", path, environmentsKey)
		}
		for name, section := range byName {
			values, ok := section.(map[string]any)
			if !ok {
				return nil, nil, fmt.Errorf("parsing %s: environment %q must be a map", path, name)
			}
			sections[name] = flattenYAML(values, environment, logger)
		}
	}
	return flattenYAML(document, environment, logger), sections, nil
}

// flattenYAML renders YAML values in the raw string form the option
// normalizers accept: lists join with commas, maps become key=value
// pairs.
func flattenYAML(document map[string]any, environment map[string]string, logger *slog.Logger) map[string]string {
	values := make(map[string]string, len(document))
	for key, value := range document {
		if _, ok := lookupOption(key); !ok {
			logger.Warn("unknown key in config file", "key", key)
			continue
		}
		var raw string
		switch typed := value.(type) {
		case []any:
			items := make([]string, len(typed))
			for i, item := range typed {
				items[i] = fmt.Sprint(item)
			}
			raw = strings.Join(items, ",")
		case map[string]any:
			pairs := make([]string, 0, len(typed))
			for _, name := range slices.Sorted(maps.Keys(typed)) {
				pairs = append(pairs, name+"="+fmt.Sprint(typed[name]))
			}
			raw = strings.Join(pairs, ",")
		case nil:
			continue
		default:
			raw = fmt.Sprint(typed)
		}
		values[key] = expandVars(raw, environment)
	}
	return values
}

// prefixedValues extracts BUREAU_APM_* variables, keyed by option name.
func prefixedValues(variables map[string]string) map[string]string {
	values := make(map[string]string)
	for name, value := range variables {
		if option, ok := strings.CutPrefix(name, EnvPrefix); ok {
			values[strings.ToLower(option)] = value
		}
	}
	return values
}

func environMap(environ []string) map[string]string {
	variables := make(map[string]string, len(environ))
	for _, entry := range environ {
		if name, value, ok := strings.Cut(entry, "="); ok {
			variables[name] = value
		}
	}
	return variables
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} from variables.
func expandVars(s string, variables map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := variables[parts[1]]; value != "" {
			return value
		}
		return parts[2]
	})
}
