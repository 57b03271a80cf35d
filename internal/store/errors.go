package store

import "errors"

var (
	// ErrAlreadyExists is returned when inserting an ID that already has a record
	ErrAlreadyExists = errors.New("follow record already exists")
	// ErrNotFound is returned when no record matches the ID
	ErrNotFound = errors.New("follow record not found")
)
