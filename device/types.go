package device

import (
	"fmt"
	"strings"
)

// ScanType is how the finger is presented to the sensor.
type ScanType int

const (
	ScanTypeSwipe ScanType = iota
	ScanTypePress
)

var scanTypeNames = map[ScanType]string{
	ScanTypeSwipe: "swipe",
	ScanTypePress: "press",
}

func (s ScanType) String() string {
	if name, ok := scanTypeNames[s]; ok {
		return name
	}
	return fmt.Sprintf("scan-type(%d)", int(s))
}

// ParseScanType looks name up among the known scan types.
func ParseScanType(name string) (ScanType, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for t, n := range scanTypeNames {
		if n == name {
			return t, true
		}
	}
	return ScanTypeSwipe, false
}

// FingerStatus tells whether the device wants a finger and whether one is on
// the sensor.
type FingerStatus uint8

const (
	FingerStatusNone    FingerStatus = 0
	FingerStatusNeeded  FingerStatus = 1 << 0
	FingerStatusPresent FingerStatus = 1 << 1
)

func (f FingerStatus) String() string {
	if f == FingerStatusNone {
		return "none"
	}
	var parts []string
	if f&FingerStatusNeeded != 0 {
		parts = append(parts, "needed")
	}
	if f&FingerStatusPresent != 0 {
		parts = append(parts, "present")
	}
	return strings.Join(parts, "|")
}

// Capability is a feature flag of a device.
type Capability uint8

const (
	CapIdentify Capability = 1 << iota
	CapCapture
	CapStorage
)

// Has reports whether every flag in o is set.
func (c Capability) Has(o Capability) bool {
	return c&o == o
}

// ActionKind names the operation a device is running.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionOpen
	ActionClose
	ActionEnroll
	ActionVerify
	ActionIdentify
	ActionList
	ActionDelete
)

var actionNames = [...]string{"none", "open", "close", "enroll", "verify", "identify", "list", "delete"}

func (a ActionKind) String() string {
	if a < 0 || int(a) >= len(actionNames) {
		return fmt.Sprintf("action(%d)", int(a))
	}
	return actionNames[a]
}

// Scanning reports whether the action consumes finger scans.
func (a ActionKind) Scanning() bool {
	switch a {
	case ActionEnroll, ActionVerify, ActionIdentify:
		return true
	}
	return false
}

// Property names an observable device property.
type Property string

const (
	PropScanType       Property = "scan-type"
	PropNrEnrollStages Property = "nr-enroll-stages"
	PropFingerStatus   Property = "finger-status"
	PropOpen           Property = "open"
	PropRemoved        Property = "removed"
)

// Info is the static description of a device handed over by its driver.
type Info struct {
	Driver         string
	DeviceID       string
	FullName       string
	ScanType       ScanType
	NrEnrollStages int
	Capabilities   Capability
}
