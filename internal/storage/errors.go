package storage

import "errors"

var (
	// ErrModelNotFound is returned when a model is not found
	ErrModelNotFound = errors.New("model not found")

	// ErrUsageRecordNotFound is returned when a usage record is not found
	ErrUsageRecordNotFound = errors.New("usage record not found")

	// ErrUnsupportedDriver is returned for database drivers without a schema
	ErrUnsupportedDriver = errors.New("unsupported database driver")
)
