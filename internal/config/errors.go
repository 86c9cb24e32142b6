package config

import (
	"errors"
	"fmt"
)

// Errors returned by configuration operations.
var (
	// ErrSettingNotFound indicates the setting path doesn't exist.
	ErrSettingNotFound = errors.New("setting not found")

	// ErrTypeMismatch indicates the value type doesn't match the expected type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrFileNotFound indicates an explicitly named file doesn't exist.
	ErrFileNotFound = errors.New("config file not found")
)

// TypeError is returned when a setting has the wrong type.
type TypeError struct {
	Path     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	return fmt.Sprintf("type error for %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

// Is matches ErrTypeMismatch.
func (e *TypeError) Is(target error) bool {
	return target == ErrTypeMismatch
}

// LoadError reports which layer failed to load.
type LoadError struct {
	Layer string
	Path  string
	Err   error
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("load %s config %s: %v", e.Layer, e.Path, e.Err)
	}
	return fmt.Sprintf("load %s config: %v", e.Layer, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
