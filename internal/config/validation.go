package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateClient checks the sections the mount client uses.
func ValidateClient(cfg *Config) error {
	if err := validate.Struct(&cfg.Logging); err != nil {
		return formatValidationError("logging", err)
	}
	if err := validate.Struct(&cfg.Client); err != nil {
		return formatValidationError("client", err)
	}
	return nil
}

// ValidateHost checks the sections the host daemon uses.
func ValidateHost(cfg *Config) error {
	if err := validate.Struct(&cfg.Logging); err != nil {
		return formatValidationError("logging", err)
	}
	if err := validate.Struct(&cfg.Host); err != nil {
		return formatValidationError("host", err)
	}
	for name := range cfg.Host.Shares {
		if name == "" {
			return errors.New("host.shares: share names must be non-empty")
		}
	}
	return nil
}

func formatValidationError(section string, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		ve := verrs[0]
		return fmt.Errorf("%s: field %q failed rule %q", section, ve.Field(), ve.Tag())
	}
	return fmt.Errorf("%s: %w", section, err)
}
