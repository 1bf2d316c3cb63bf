package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	millerrors "github.com/avelline/marketmill/pkg/errors"
)

// DefaultFileName is the configuration file looked up when no --config flag
// is given.
const DefaultFileName = "marketmill.yaml"

var yamlLineRegex = regexp.MustCompile(`line (\d+)`)

// Load reads the configuration at path, layers it over the defaults, and
// validates the result. An empty path loads DefaultFileName when present and
// falls back to pure defaults when it is not.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			cfg := Default()
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, millerrors.NewParseError(path, 0, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, millerrors.NewParseError(path, extractLine(err), err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func extractLine(err error) int {
	if err == nil {
		return 0
	}

	matches := yamlLineRegex.FindStringSubmatch(err.Error())
	if len(matches) != 2 {
		return 0
	}

	var line int
	_, scanErr := fmt.Sscanf(matches[1], "%d", &line)
	if scanErr != nil {
		return 0
	}

	return line
}
