package config

import "errors"

// ErrNotFound is returned when an explicitly named config file does not
// exist.
var ErrNotFound = errors.New("config file not found")
