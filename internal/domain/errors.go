package domain

import (
	"errors"
	"fmt"
)

var (
	ErrRefNotFound         = errors.New("ref not found")
	ErrGitCommandFailed    = errors.New("git command failed")
	ErrNotResumable        = errors.New("task is not resumable")
	ErrNoRunningProcess    = errors.New("no running process")
	ErrRunInProgress       = errors.New("a run is already in progress")
	ErrTaskNotFound        = errors.New("task not found")
	ErrEnvironmentNotFound = errors.New("environment not found")
	ErrRunNotFound         = errors.New("run not found")
	ErrInvalidArgument     = errors.New("invalid argument")
)

// RefNotFoundError reports a branch, tag or ref missing from a mirror
type RefNotFoundError struct {
	Ref string
}

func (e *RefNotFoundError) Error() string {
	return fmt.Sprintf("ref not found: %s", e.Ref)
}

func (e *RefNotFoundError) Unwrap() error { return ErrRefNotFound }

// NotResumableError is returned when resuming a task that never reported a session id
type NotResumableError struct {
	TaskID string
}

func (e *NotResumableError) Error() string {
	return fmt.Sprintf("task %s has no session id to resume", e.TaskID)
}

func (e *NotResumableError) Unwrap() error { return ErrNotResumable }

// NoRunningProcessError is returned when stopping a task with no live process
type NoRunningProcessError struct {
	TaskID string
}

func (e *NoRunningProcessError) Error() string {
	return fmt.Sprintf("no running process for task %s", e.TaskID)
}

func (e *NoRunningProcessError) Unwrap() error { return ErrNoRunningProcess }
