package records

import (
	"fmt"
	"strconv"
	"strings"
)

// ProvisionalPrefix marks ids allocated locally for records created offline.
const ProvisionalPrefix = "offline-"

// Attribute keys the record form always supplies.
const (
	AttrYear     = "year"
	AttrPrice    = "price"
	AttrCPUModel = "CPU model"
	AttrDiskSize = "Hard disk size"
)

// Payload is a user-authored record that has not been assigned an id yet.
// The remote API names the attribute map "data".
type Payload struct {
	Name       string         `json:"name"`
	Attributes map[string]any `json:"data"`
}

// Record is an identified record, either server-issued or provisional.
type Record struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"data"`
}

// IsProvisional reports whether id was allocated locally.
func IsProvisional(id string) bool {
	return strings.HasPrefix(id, ProvisionalPrefix)
}

// ProvisionalID formats the n-th provisional id.
func ProvisionalID(n int) string {
	return ProvisionalPrefix + strconv.Itoa(n)
}

// Coerce returns a copy of p with year and price converted to numbers.
// Values that cannot be parsed are left as they are.
func (p Payload) Coerce() Payload {
	out := Payload{Name: p.Name}
	if p.Attributes == nil {
		return out
	}
	out.Attributes = make(map[string]any, len(p.Attributes))
	for k, v := range p.Attributes {
		out.Attributes[k] = v
	}
	for _, k := range []string{AttrYear, AttrPrice} {
		v, ok := out.Attributes[k]
		if !ok {
			continue
		}
		if f, ok := toNumber(v); ok {
			out.Attributes[k] = f
		}
	}
	return out
}

// WithID builds the record p would become under the given id.
func (p Payload) WithID(id string) Record {
	c := p.Coerce()
	return Record{ID: id, Name: c.Name, Attributes: c.Attributes}
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// ParseIDs splits a comma-separated id list, trimming blanks.
func ParseIDs(input string) []string {
	var ids []string
	for _, part := range strings.Split(input, ",") {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Partition splits ids into provisional and server-addressed ids,
// preserving their relative order.
func Partition(ids []string) (provisional, server []string) {
	for _, id := range ids {
		if IsProvisional(id) {
			provisional = append(provisional, id)
		} else {
			server = append(server, id)
		}
	}
	return provisional, server
}

// ApplyRemap returns a copy of recs where every id found in idMap is
// replaced by its mapped value, and the number of records changed.
func ApplyRemap(recs []Record, idMap map[string]string) ([]Record, int) {
	out := make([]Record, len(recs))
	changed := 0
	for i, r := range recs {
		if newID, ok := idMap[r.ID]; ok && r.ID != "" {
			r.ID = newID
			changed++
		}
		out[i] = r
	}
	return out, changed
}

// String renders the record the way the CLI prints it.
func (r Record) String() string {
	return fmt.Sprintf("%s (ID: %s)", r.Name, r.ID)
}
