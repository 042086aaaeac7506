package domain

import "errors"

var (
	ErrNotFound       = errors.New("bot not found")
	ErrAlreadyRunning = errors.New("bot is already running")
	ErrNotRunning     = errors.New("bot is not running")

	// ErrPathTraversal marks an archive entry that would escape the extraction directory.
	ErrPathTraversal = errors.New("path traversal attempt detected")
	// ErrEntryFileNotFound: no runnable script was detected in the extracted archive.
	ErrEntryFileNotFound = errors.New("could not find a valid entry file")
	ErrSpawn             = errors.New("failed to spawn process")

	// soft errors: logged, never returned to the caller of the original operation
	ErrDependencyInstall = errors.New("dependency install failed")
	ErrPersistence       = errors.New("persistence write failed")
)
