package imposition

import (
	"errors"
	"fmt"

	"github.com/Lllllllleong/bookletflow/internal/models"
)

var (
	ErrInputFormat      = errors.New("invalid bounding box format")
	ErrStreamUnderrun   = errors.New("rasterizer stream ended early")
	ErrEmptyAggregation = errors.New("no page with detectable ink")
	ErrConfiguration    = errors.New("invalid margin configuration")
)

// InputFormatError reports a malformed bounding box override.
type InputFormatError struct {
	Input  string
	Reason string
}

func (e *InputFormatError) Error() string {
	return fmt.Sprintf("%v %q: %s", ErrInputFormat, e.Input, e.Reason)
}

func (e *InputFormatError) Unwrap() error { return ErrInputFormat }

// StreamUnderrunError reports a page whose raster data was cut short.
type StreamUnderrunError struct {
	Page int // 1-based
	Want int
	Got  int
	Err  error
}

func (e *StreamUnderrunError) Error() string {
	return fmt.Sprintf("%v: page %d: got %d of %d bytes: %v", ErrStreamUnderrun, e.Page, e.Got, e.Want, e.Err)
}

func (e *StreamUnderrunError) Unwrap() []error { return []error{ErrStreamUnderrun, e.Err} }

// ConfigurationError reports margins or a content box that leave no usable
// area on the sheet.
type ConfigurationError struct {
	Sheet   models.PaperSize
	Margins models.Margins
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%v: %s (sheet %s %dx%dpt, outer %dpt, inner %dpt)",
		ErrConfiguration, e.Reason, e.Sheet.Name, e.Sheet.Width, e.Sheet.Height, e.Margins.Outer, e.Margins.Inner)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }
