package scheduler

import "errors"

var (
	// ErrFixedTimePassed rejects a one-shot schedule whose time has gone by.
	ErrFixedTimePassed = errors.New("fixed time is in the past")
	// ErrUnsupportedSchedule rejects an unknown scheduleType.
	ErrUnsupportedSchedule = errors.New("unsupported schedule type")
	// ErrRunning is returned by Init on a scheduler that is already running.
	ErrRunning = errors.New("scheduler already running")
	// ErrNotRunning is returned by Shutdown before Init.
	ErrNotRunning = errors.New("scheduler not running")
)
