// Package fprint holds enrolled fingerprint templates. The template payload
// is opaque; only the driver that produced it knows how to match it.
package fprint

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

// Finger identifies which finger a print belongs to.
type Finger int

const (
	FingerUnknown Finger = iota
	LeftThumb
	LeftIndex
	LeftMiddle
	LeftRing
	LeftLittle
	RightThumb
	RightIndex
	RightMiddle
	RightRing
	RightLittle
)

var fingerNames = [...]string{
	"unset",
	"left-thumb",
	"left-index-finger",
	"left-middle-finger",
	"left-ring-finger",
	"left-little-finger",
	"right-thumb",
	"right-index-finger",
	"right-middle-finger",
	"right-ring-finger",
	"right-little-finger",
}

func (f Finger) String() string {
	if f < FingerUnknown || int(f) >= len(fingerNames) {
		return fmt.Sprintf("finger(%d)", int(f))
	}
	return fingerNames[f]
}

// Valid reports whether f is one of the ten finger positions.
func (f Finger) Valid() bool {
	return f >= LeftThumb && f <= RightLittle
}

// ParseFinger accepts the nick returned by String.
func ParseFinger(name string) (Finger, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range fingerNames {
		if n == name {
			return Finger(i), nil
		}
	}
	return FingerUnknown, fmt.Errorf("unknown finger %q", name)
}

// Print is an enrolled template. A print with an empty Driver is detached
// from any device.
type Print struct {
	Driver       string
	DeviceID     string
	Finger       Finger
	Username     string
	Description  string
	EnrollDate   time.Time
	DeviceStored bool

	// Tag labels the payload. The virtual drivers put the scan id here.
	Tag  string
	Data []byte
}

// New returns an empty template owned by the given device, ready to be
// filled in and passed to enroll.
func New(driver, deviceID string) *Print {
	return &Print{Driver: driver, DeviceID: deviceID}
}

// Detached reports whether the print has no owning device.
func (p *Print) Detached() bool {
	return p.Driver == ""
}

// Detach returns a copy with the owning device identity cleared.
func (p *Print) Detach() *Print {
	c := p.Clone()
	c.Driver = ""
	c.DeviceID = ""
	c.DeviceStored = false
	return c
}

// Clone returns a deep copy.
func (p *Print) Clone() *Print {
	c := *p
	if p.Data != nil {
		c.Data = append([]byte(nil), p.Data...)
	}
	return &c
}

// HasPayload reports whether the print carries template data.
func (p *Print) HasPayload() bool {
	return p.Tag != "" || len(p.Data) > 0
}

func (p *Print) String() string {
	owner := "detached"
	if !p.Detached() {
		owner = p.Driver + "/" + p.DeviceID
	}
	return fmt.Sprintf("Print(%s, %s, user=%q, tag=%q)", owner, p.Finger, p.Username, p.Tag)
}

// Equal compares finger, username and payload. Device ownership,
// description and dates are ignored so a detached copy stays equal.
func Equal(a, b *Print) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Finger == b.Finger &&
		a.Username == b.Username &&
		a.Tag == b.Tag &&
		bytes.Equal(a.Data, b.Data)
}

// Equal is a convenience for fprint.Equal(p, o).
func (p *Print) Equal(o *Print) bool {
	return Equal(p, o)
}

// Matcher decides whether a scanned print matches an enrolled template.
type Matcher interface {
	Match(template, scan *Print) bool
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(template, scan *Print) bool

func (f MatcherFunc) Match(template, scan *Print) bool {
	return f(template, scan)
}

// PayloadMatcher matches on exact payload equality, which is all a raw
// template from the virtual drivers can offer.
var PayloadMatcher Matcher = MatcherFunc(func(template, scan *Print) bool {
	if template == nil || scan == nil || !template.HasPayload() {
		return false
	}
	return template.Tag == scan.Tag && bytes.Equal(template.Data, scan.Data)
})

// PayloadFromScan derives the template bytes for a scan label.
func PayloadFromScan(id string) []byte {
	sum := blake2b.Sum256([]byte(id))
	return sum[:]
}

const serialFormat = 1

type serialPrint struct {
	Format       int       `json:"format"`
	Driver       string    `json:"driver,omitempty"`
	DeviceID     string    `json:"device_id,omitempty"`
	Finger       string    `json:"finger"`
	Username     string    `json:"username,omitempty"`
	Description  string    `json:"description,omitempty"`
	EnrollDate   time.Time `json:"enroll_date,omitempty"`
	DeviceStored bool      `json:"device_stored,omitempty"`
	Tag          string    `json:"tag,omitempty"`
	Data         []byte    `json:"data,omitempty"`
}

// ErrBadFormat is returned when deserializing data that is not a print.
var ErrBadFormat = errors.New("data is not a serialized print")

// Serialize encodes the print so it can be stored away from the device.
func (p *Print) Serialize() ([]byte, error) {
	data, err := json.Marshal(serialPrint{
		Format:       serialFormat,
		Driver:       p.Driver,
		DeviceID:     p.DeviceID,
		Finger:       p.Finger.String(),
		Username:     p.Username,
		Description:  p.Description,
		EnrollDate:   p.EnrollDate,
		DeviceStored: p.DeviceStored,
		Tag:          p.Tag,
		Data:         p.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot marshal print: %w", err)
	}
	return data, nil
}

// Deserialize decodes data produced by Serialize.
func Deserialize(data []byte) (*Print, error) {
	var sp serialPrint
	if err := json.Unmarshal(data, &sp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if sp.Format != serialFormat {
		return nil, fmt.Errorf("%w: unsupported format %d", ErrBadFormat, sp.Format)
	}
	finger, err := ParseFinger(sp.Finger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	return &Print{
		Driver:       sp.Driver,
		DeviceID:     sp.DeviceID,
		Finger:       finger,
		Username:     sp.Username,
		Description:  sp.Description,
		EnrollDate:   sp.EnrollDate,
		DeviceStored: sp.DeviceStored,
		Tag:          sp.Tag,
		Data:         sp.Data,
	}, nil
}
