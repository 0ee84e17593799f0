package core

import (
	"errors"
	"fmt"
)

// ResolutionError means a source could not be turned into a downloadable
// asset: the reference is malformed, the repository has no releases, the
// release has no usable assets, or the metadata request itself failed.
type ResolutionError struct {
	Source string
	Reason string
	Err    error
}

func (e *ResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolving %q: %s: %v", e.Source, e.Reason, e.Err)
	}
	return fmt.Sprintf("resolving %q: %s", e.Source, e.Reason)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// DownloadError means the transfer failed after resolution succeeded.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("downloading %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// UnsupportedFormatError means the payload declared an archive format by
// filename but no recognized container could be read from it.
type UnsupportedFormatError struct {
	Filename string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("%s: unsupported or unreadable archive format", e.Filename)
}

// EmptyArchiveError means a recognized container held no regular files.
type EmptyArchiveError struct {
	Filename string
}

func (e *EmptyArchiveError) Error() string {
	return fmt.Sprintf("%s: archive contains no files", e.Filename)
}

// AlreadyInstalledError rejects an install over an existing package name.
type AlreadyInstalledError struct {
	Name string
}

func (e *AlreadyInstalledError) Error() string {
	return fmt.Sprintf("package %q is already installed; update it, or reinstall with --force", e.Name)
}

// NotInstalledError means the named package has no registry record.
type NotInstalledError struct {
	Name string
}

func (e *NotInstalledError) Error() string {
	return fmt.Sprintf("package %q is not installed", e.Name)
}

// NoBackupError means a rollback was requested but the record holds no
// previous binary.
type NoBackupError struct {
	Name string
}

func (e *NoBackupError) Error() string {
	return fmt.Sprintf("package %q has no backup to revert to", e.Name)
}

// PartialUpdateError reports that a destructive step failed partway and
// automatic recovery did not complete. The binary and backup paths tell the
// user what to inspect; the registry record was not advanced past the last
// consistent state unless noted in the wrapped error.
type PartialUpdateError struct {
	Name       string
	BinaryPath string
	BackupPath string
	Err        error
}

func (e *PartialUpdateError) Error() string {
	return fmt.Sprintf("package %q may be in an inconsistent state (binary: %s, backup: %s): %v",
		e.Name, e.BinaryPath, e.BackupPath, e.Err)
}

func (e *PartialUpdateError) Unwrap() error { return e.Err }

// RegistryIOError wraps a failure to read, parse, or write the registry file.
type RegistryIOError struct {
	Path string
	Op   string // "read", "parse", or "write"
	Err  error
}

func (e *RegistryIOError) Error() string {
	return fmt.Sprintf("registry %s (%s): %v", e.Op, e.Path, e.Err)
}

func (e *RegistryIOError) Unwrap() error { return e.Err }

// ErrOperationInFlight rejects a second concurrent operation on a package
// name while one is still running.
var ErrOperationInFlight = errors.New("another operation on this package is in progress")

// IsNotInstalled reports whether err is a NotInstalledError.
func IsNotInstalled(err error) bool {
	var e *NotInstalledError
	return errors.As(err, &e)
}

// IsAlreadyInstalled reports whether err is an AlreadyInstalledError.
func IsAlreadyInstalled(err error) bool {
	var e *AlreadyInstalledError
	return errors.As(err, &e)
}

// IsNoBackup reports whether err is a NoBackupError.
func IsNoBackup(err error) bool {
	var e *NoBackupError
	return errors.As(err, &e)
}

// IsPartialUpdate reports whether err is a PartialUpdateError.
func IsPartialUpdate(err error) bool {
	var e *PartialUpdateError
	return errors.As(err, &e)
}
