package config

import "fmt"

// CurrentVersion is the config file layout this build reads. It changes only
// when keys move or change meaning; the session database has its own
// migrations (chatia migrate) and does not follow this number.
const CurrentVersion = 1

// VersionProblem says how a file's version disagrees with CurrentVersion.
type VersionProblem int

const (
	VersionInvalid VersionProblem = iota + 1
	VersionTooOld
	VersionTooNew
)

// VersionError is returned by Validate when the file's version key cannot be
// read by this build. A file without the key is treated as CurrentVersion.
type VersionError struct {
	Version int
	Current int
	Problem VersionProblem
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Problem {
	case VersionInvalid:
		return fmt.Sprintf("config version %d is invalid: omit the key or set version: %d", e.Version, e.Current)
	case VersionTooOld:
		return fmt.Sprintf("config version %d predates layout %d: compare the file with `chatia config schema` and set version: %d", e.Version, e.Current, e.Current)
	case VersionTooNew:
		return fmt.Sprintf("config version %d was written for a newer chatia (this build reads %d)", e.Version, e.Current)
	}
	return fmt.Sprintf("config version %d is not supported (this build reads %d)", e.Version, e.Current)
}

// ValidateVersion reports whether version is readable by this build.
func ValidateVersion(version int) error {
	var problem VersionProblem
	switch {
	case version == CurrentVersion:
		return nil
	case version <= 0:
		problem = VersionInvalid
	case version < CurrentVersion:
		problem = VersionTooOld
	default:
		problem = VersionTooNew
	}
	return &VersionError{Version: version, Current: CurrentVersion, Problem: problem}
}
