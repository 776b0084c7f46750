package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/leapstack-labs/dfmigrate/internal/cli/output"
)

// Validate checks ranges and enumerations. Projects and locations may be
// empty here; ValidatePairs checks them for commands that need pairs.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Engine().Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := output.ParseMode(c.OutputMode); err != nil {
		errs = append(errs, err)
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output_dir is required"))
	}
	if err := nonEmpty("projects", c.Projects); err != nil {
		errs = append(errs, err)
	}
	if err := nonEmpty("locations", c.Locations); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidatePairs requires at least one project and one location.
func (c *Config) ValidatePairs() error {
	if len(c.Projects) == 0 {
		return fmt.Errorf("at least one project is required\nHint: pass --project or set %sPROJECTS", EnvPrefix)
	}
	if len(c.Locations) == 0 {
		return fmt.Errorf("at least one location is required\nHint: pass --location or set %sLOCATIONS", EnvPrefix)
	}
	return nil
}

func nonEmpty(key string, values []string) error {
	for i, v := range values {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s[%d] is empty", key, i)
		}
	}
	return nil
}
