package config

import (
	"errors"
	"fmt"
)

// CurrentVersion is the config file format this build reads.
const CurrentVersion = 1

// ErrUnsupportedVersion is wrapped by ValidateVersion failures.
var ErrUnsupportedVersion = errors.New("unsupported config version")

// ValidateVersion accepts only CurrentVersion.
func ValidateVersion(version int) error {
	switch {
	case version == CurrentVersion:
		return nil
	case version > CurrentVersion:
		return fmt.Errorf("%w %d: written for a newer quill (this build reads %d); upgrade quill", ErrUnsupportedVersion, version, CurrentVersion)
	default:
		return fmt.Errorf("%w %d: expected %d", ErrUnsupportedVersion, version, CurrentVersion)
	}
}
