package session

import (
	"fmt"
	"regexp"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// maxSocketPath is the sun_path limit on macOS; Linux allows 108.
const maxSocketPath = 103

// ValidateName checks that name can be used as a session directory.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid session name %q: use 1-64 of a-z, 0-9, '_' and '-'", name)
	}
	return nil
}

// ValidateSocketPath rejects socket paths the kernel would refuse to bind,
// which otherwise surface as an opaque "invalid argument" from listen.
func ValidateSocketPath(path string) error {
	if len(path) > maxSocketPath {
		return fmt.Errorf("socket path %q is %d bytes, limit is %d: set CHATKIT_HOME to a shorter directory", path, len(path), maxSocketPath)
	}
	return nil
}
