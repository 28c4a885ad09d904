package storage

import "errors"

var (
	// ErrDatabaseDisabled is returned by NewDB when no database URL is configured
	ErrDatabaseDisabled = errors.New("database not configured")

	// ErrRedisDisabled is returned by NewRedisClient when no address is configured
	ErrRedisDisabled = errors.New("redis not configured")

	// ErrUsageRecordNotFound is returned when a usage record is not found
	ErrUsageRecordNotFound = errors.New("usage record not found")
)
