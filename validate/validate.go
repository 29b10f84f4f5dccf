package validate

import (
	"fmt"
	"regexp"
	"time"
)

// MaxCommandLength is the largest simulation command accepted in one read.
const MaxCommandLength = 1024

// MaxSleep bounds a single SLEEP command.
const MaxSleep = 10 * time.Minute

var (
	safePrintIDPattern  = regexp.MustCompile(`^[\x21-\x7e]+$`)
	safeUsernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.][a-zA-Z0-9_.\-]*$`)
)

// PrintID validates the label of a simulated print
func PrintID(id string) error {
	if id == "" {
		return fmt.Errorf("empty print id")
	}

	if len(id) > 256 {
		return fmt.Errorf("print id too long")
	}

	if !safePrintIDPattern.MatchString(id) {
		return fmt.Errorf("print id contains invalid characters")
	}

	return nil
}

// EnrollStages validates the number of enroll stages
func EnrollStages(n int) error {
	if n <= 0 {
		return fmt.Errorf("enroll_stages > 0")
	}

	return nil
}

// SleepInterval validates a SLEEP duration in milliseconds
func SleepInterval(ms int) error {
	if ms < 0 {
		return fmt.Errorf("sleep interval cannot be negative")
	}

	if time.Duration(ms)*time.Millisecond > MaxSleep {
		return fmt.Errorf("sleep interval exceeds %s", MaxSleep)
	}

	return nil
}

// CommandLine validates a raw simulation command
func CommandLine(line string) error {
	if len(line) == 0 {
		return fmt.Errorf("empty command")
	}

	if len(line) > MaxCommandLength {
		return fmt.Errorf("command too long")
	}

	for _, c := range []byte(line) {
		if c < 0x20 || c > 0x7e {
			return fmt.Errorf("command contains non printable characters")
		}
	}

	return nil
}

// Username validates a user name as accepted by the D-Bus front end
func Username(name string) error {
	if len(name) == 0 || len(name) > 32 {
		return fmt.Errorf("username must be 1 to 32 characters")
	}

	if !safeUsernamePattern.MatchString(name) {
		return fmt.Errorf("username contains invalid characters")
	}

	return nil
}
