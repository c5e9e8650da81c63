package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/Skryldev/fprint/errors"
)

// MaxTemplateMinutiae caps the number of points kept per template.
const MaxTemplateMinutiae = 200

// PrintType describes what a Print carries.
type PrintType int

const (
	PrintUndefined PrintType = iota
	PrintRaw
	PrintMinutiae
)

func (t PrintType) String() string {
	switch t {
	case PrintRaw:
		return "raw"
	case PrintMinutiae:
		return "minutiae"
	}
	return "undefined"
}

// Print is an enrolled template. The on-disk form is JSON and is only
// meaningful to the device that produced it.
type Print struct {
	ID           string      `json:"id"`
	Driver       string      `json:"driver"`
	DeviceID     string      `json:"device_id"`
	DeviceStored bool        `json:"device_stored"`
	Type         PrintType   `json:"type"`
	Finger       Finger      `json:"finger"`
	Username     string      `json:"username,omitempty"`
	Description  string      `json:"description,omitempty"`
	EnrollDate   time.Time   `json:"enroll_date"`
	Data         []byte      `json:"data,omitempty"`
	Templates    [][]Minutia `json:"templates,omitempty"`
}

// NewPrint returns a blank print bound to a device, suitable as an enroll
// template.
func NewPrint(info DeviceInfo) *Print {
	return &Print{
		ID:       uuid.NewString(),
		Driver:   info.Driver,
		DeviceID: info.DeviceID,
	}
}

// Blank reports whether p has not been filled by an enrollment yet.
func (p *Print) Blank() bool {
	return p.Type == PrintUndefined && len(p.Data) == 0 && len(p.Templates) == 0
}

// SetType fixes the print type. It may only be changed from undefined.
func (p *Print) SetType(t PrintType) error {
	if p.Type != PrintUndefined && p.Type != t {
		return apperrors.New(apperrors.CategoryInput, "print.set_type",
			fmt.Errorf("print type already set to %s", p.Type))
	}
	p.Type = t
	return nil
}

// AddFromImage appends the minutiae of an analyzed image as a new template.
// The first MaxTemplateMinutiae points in detection order are kept and
// sorted by position.
func (p *Print) AddFromImage(img *Image) error {
	if p.Type != PrintMinutiae {
		return apperrors.New(apperrors.CategoryInput, "print.add_from_image",
			fmt.Errorf("print type %s cannot hold minutiae", p.Type))
	}
	m := img.Minutiae()
	if m == nil {
		return apperrors.New(apperrors.CategoryInput, "print.add_from_image",
			fmt.Errorf("image has not been analyzed"))
	}
	p.Templates = append(p.Templates, sortedTemplate(m))
	return nil
}

// AddPrint appends the templates of another minutiae print.
func (p *Print) AddPrint(other *Print) {
	for _, t := range other.Templates {
		cp := make([]Minutia, len(t))
		copy(cp, t)
		p.Templates = append(p.Templates, cp)
	}
}

// Compatible reports whether p was enrolled on the described device.
func (p *Print) Compatible(info DeviceInfo) bool {
	return p.Driver == info.Driver && p.DeviceID == info.DeviceID
}

// Equal compares the biometric content of two prints from the same device.
func (p *Print) Equal(o *Print) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.Type != o.Type || p.Driver != o.Driver || p.DeviceID != o.DeviceID {
		return false
	}
	switch p.Type {
	case PrintRaw:
		return bytes.Equal(p.Data, o.Data)
	case PrintMinutiae:
		if len(p.Templates) != len(o.Templates) {
			return false
		}
		for i := range p.Templates {
			if len(p.Templates[i]) != len(o.Templates[i]) {
				return false
			}
			for j := range p.Templates[i] {
				if p.Templates[i][j] != o.Templates[i][j] {
					return false
				}
			}
		}
		return true
	}
	return p.ID == o.ID
}

// Marshal serializes the print.
func (p *Print) Marshal() ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryEncode, "print.marshal", err)
	}
	return b, nil
}

// UnmarshalPrint parses a print produced by Marshal.
func UnmarshalPrint(b []byte) (*Print, error) {
	var p Print
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, apperrors.NewDeviceMsg(apperrors.CodeDataInvalid, "print: "+err.Error())
	}
	if p.ID == "" {
		return nil, apperrors.ErrDataInvalid
	}
	return &p, nil
}

func sortedTemplate(m []Minutia) []Minutia {
	if len(m) > MaxTemplateMinutiae {
		m = m[:MaxTemplateMinutiae]
	}
	out := make([]Minutia, len(m))
	copy(out, m)
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].X != out[b].X {
			return out[a].X < out[b].X
		}
		return out[a].Y < out[b].Y
	})
	return out
}
