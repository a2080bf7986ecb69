// Package config handles configuration loading and validation for BalanceChain.
package config

import (
	"fmt"
	"strings"

	"balancechain/internal/caps"
)

// ValidationError represents a single configuration validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validLogFormats = map[string]bool{"json": true, "text": true}

// Validate checks c for internally-consistent values. It does not touch
// the filesystem — callers create missing directories themselves.
func (c *Config) Validate() error {
	var errs ValidationErrors

	if c.Store.Path == "" {
		errs = append(errs, ValidationError{"store.path", "must not be empty"})
	}
	if c.Store.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{"store.busy_timeout_ms", "must be non-negative"})
	}

	if c.Signing.Algorithm != "" && c.Signing.Algorithm != "ecdsa-p256" {
		errs = append(errs, ValidationError{"signing.algorithm", "only ecdsa-p256 is supported"})
	}

	if c.Caps.DailyCap < 0 || c.Caps.MonthlyCap < 0 || c.Caps.YearlyCap < 0 || c.Caps.InitialUnlocked < 0 {
		errs = append(errs, ValidationError{"caps", "override values must be non-negative"})
	}
	if c.Caps.DailyCap > 0 && c.Caps.MonthlyCap > 0 && c.Caps.DailyCap > c.Caps.MonthlyCap {
		errs = append(errs, ValidationError{"caps.daily_cap", "must not exceed caps.monthly_cap"})
	}
	if c.Caps.MonthlyCap > 0 && c.Caps.YearlyCap > 0 && c.Caps.MonthlyCap > c.Caps.YearlyCap {
		errs = append(errs, ValidationError{"caps.monthly_cap", "must not exceed caps.yearly_cap"})
	}

	if c.Logging.Level != "" && !validLogLevels[c.Logging.Level] {
		errs = append(errs, ValidationError{"logging.level", "must be one of debug, info, warn, error"})
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		errs = append(errs, ValidationError{"logging.format", "must be one of json, text"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Limits converts the config's overrides into caps.Limits. Zero fields
// pass through unchanged — NewWithLimits resolves those to the protocol
// constants.
func (c CapsConfig) Limits() caps.Limits {
	return caps.Limits{
		Daily:   c.DailyCap,
		Monthly: c.MonthlyCap,
		Yearly:  c.YearlyCap,
		Initial: c.InitialUnlocked,
	}
}
