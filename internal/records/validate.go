package records

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValidationError carries the user-facing reason a payload was rejected.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Validate checks a submitted payload the same way the record form does.
// now is used for the upper bound on year.
func Validate(p Payload, now time.Time) error {
	if strings.TrimSpace(p.Name) == "" {
		return &ValidationError{Field: "name", Message: "Object name is required."}
	}
	if p.Attributes == nil {
		return &ValidationError{Field: "data", Message: "Object details are required."}
	}

	year, ok := p.Attributes[AttrYear]
	if !ok || isBlank(year) {
		return &ValidationError{Field: AttrYear, Message: "Year is required."}
	}
	y, ok := toNumber(year)
	if !ok || y < 1900 || y > float64(now.Year()+1) {
		return &ValidationError{Field: AttrYear, Message: "A valid year (e.g., 2024) is required."}
	}

	price, ok := p.Attributes[AttrPrice]
	if !ok || isBlank(price) {
		return &ValidationError{Field: AttrPrice, Message: "Price is required."}
	}
	if f, ok := toNumber(price); !ok || f <= 0 {
		return &ValidationError{Field: AttrPrice, Message: "A valid price (greater than 0) is required."}
	}

	if v, ok := p.Attributes[AttrCPUModel]; !ok || isBlank(v) {
		return &ValidationError{Field: AttrCPUModel, Message: "CPU Model is required."}
	}
	if v, ok := p.Attributes[AttrDiskSize]; !ok || isBlank(v) {
		return &ValidationError{Field: AttrDiskSize, Message: "Hard Disk Size is required."}
	}
	return nil
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return strings.TrimSpace(fmt.Sprint(v)) == ""
}

// ValidateIDs checks a read request. At least one id must be provisional or
// a positive number.
func ValidateIDs(ids []string) error {
	if len(ids) == 0 {
		return &ValidationError{Field: "ids", Message: "Please enter at least one object ID."}
	}
	for _, id := range ids {
		if IsProvisional(id) {
			return nil
		}
		if n, err := strconv.ParseFloat(id, 64); err == nil && n > 0 {
			return nil
		}
	}
	return &ValidationError{Field: "ids", Message: "Invalid input. Please enter valid, comma-separated IDs (e.g., 3, 5, 10) or offline IDs."}
}
