package config

import "errors"

var (
	// ErrAlreadyLoaded is returned when the env file path changes after loading
	ErrAlreadyLoaded = errors.New("the env file has already been read")
	// ErrInvalid wraps every validation failure
	ErrInvalid = errors.New("invalid configuration")
)
