package model

import "errors"

var (
	// ErrNotFound is returned when a resource is not found.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("already exists")
	// ErrNotValid is returned when a resource is not valid.
	ErrNotValid = errors.New("not valid")
	// ErrQueueFull is returned when the job queue can't accept more jobs.
	ErrQueueFull = errors.New("job queue is full")
	// ErrProfileNotFound is returned when a job references a missing profile.
	ErrProfileNotFound = errors.New("profile not found")
)
