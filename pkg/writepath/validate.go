package writepath

import (
	"fmt"
	"strings"
)

// ValidateDatabaseName enforces the database name rules:
// non-empty, ASCII only, first character alphanumeric, subsequent
// characters alphanumeric/underscore/hyphen, with an optional single
// '/' separating a retention-policy suffix; a trailing '/' is
// rejected.
func ValidateDatabaseName(name string) error {
	if name == "" {
		return fmt.Errorf("writepath: database name must not be empty")
	}
	for i := 0; i < len(name); i++ {
		if name[i] > 127 {
			return fmt.Errorf("writepath: database name must be ASCII")
		}
	}
	if strings.HasSuffix(name, "/") {
		return fmt.Errorf("writepath: database name must not end with '/'")
	}

	parts := strings.SplitN(name, "/", 2)
	if len(parts) == 2 && strings.Contains(parts[1], "/") {
		return fmt.Errorf("writepath: database name must contain at most one '/'")
	}
	for _, part := range parts {
		if err := validateNameComponent(part); err != nil {
			return err
		}
	}
	return nil
}

func validateNameComponent(part string) error {
	if part == "" {
		return fmt.Errorf("writepath: database name component must not be empty")
	}
	for i, r := range part {
		if i == 0 {
			if !isAlphanumeric(r) {
				return fmt.Errorf("writepath: database name must start with an alphanumeric character")
			}
			continue
		}
		if !isAlphanumeric(r) && r != '_' && r != '-' {
			return fmt.Errorf("writepath: invalid character %q in database name", r)
		}
	}
	return nil
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
