package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Base record keys. They are owned by the store and never live in Fields.
const (
	KeyID        = "id"
	KeyCreatedAt = "createdAt"
	KeyUpdatedAt = "updatedAt"
	KeyCreatedBy = "createdBy"
)

// Record is the shape shared by every entity type. Type-specific fields are
// held in Fields using the camelCase keys of the wire format.
type Record struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
	CreatedBy string
	Fields    map[string]any
}

// NewRecord builds a record from a field map. Base keys present in fields are
// lifted into the record header.
func NewRecord(fields map[string]any) Record {
	raw, err := json.Marshal(fields)
	if err != nil {
		return Record{Fields: cloneFields(fields)}
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{Fields: cloneFields(fields)}
	}
	return rec
}

// MarshalJSON flattens the header and fields into one object.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+4)
	for k, v := range r.Fields {
		out[k] = v
	}
	out[KeyID] = r.ID
	if !r.CreatedAt.IsZero() {
		out[KeyCreatedAt] = r.CreatedAt
	}
	if !r.UpdatedAt.IsZero() {
		out[KeyUpdatedAt] = r.UpdatedAt
	}
	if r.CreatedBy != "" {
		out[KeyCreatedBy] = r.CreatedBy
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits a flat object into header and fields. Numbers are kept
// as json.Number so amounts survive round trips exactly.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*r = Record{Fields: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case KeyID:
			r.ID = asString(v)
		case KeyCreatedBy:
			r.CreatedBy = asString(v)
		case KeyCreatedAt:
			t, err := parseTime(v)
			if err != nil {
				return fmt.Errorf("record %s: %w", k, err)
			}
			r.CreatedAt = t
		case KeyUpdatedAt:
			t, err := parseTime(v)
			if err != nil {
				return fmt.Errorf("record %s: %w", k, err)
			}
			r.UpdatedAt = t
		default:
			r.Fields[k] = v
		}
	}
	return nil
}

// Normalize returns a deep copy of the record whose field values have the
// same shape they would have after a JSON round trip.
func (r Record) Normalize() (Record, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return Record{}, err
	}
	var out Record
	if err := json.Unmarshal(raw, &out); err != nil {
		return Record{}, err
	}
	return out, nil
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	cp := r
	cp.Fields = cloneFields(r.Fields)
	return cp
}

// Get returns the raw field value.
func (r Record) Get(key string) (any, bool) {
	if r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[key]
	return v, ok
}

// Has reports whether a non-empty value is present for key.
func (r Record) Has(key string) bool {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return s != ""
	}
	return true
}

// String returns the field as a string, or "" when absent.
func (r Record) String(key string) string {
	v, _ := r.Get(key)
	return asString(v)
}

// Decimal returns the field as a decimal, or zero when absent or unparsable.
func (r Record) Decimal(key string) decimal.Decimal {
	v, _ := r.Get(key)
	return asDecimal(v)
}

// Int returns the field as an int, or zero.
func (r Record) Int(key string) int {
	return int(r.Decimal(key).IntPart())
}

// Time returns the field parsed as an RFC 3339 timestamp.
func (r Record) Time(key string) (time.Time, bool) {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return time.Time{}, false
	}
	t, err := parseTime(v)
	if err != nil || t.IsZero() {
		return time.Time{}, false
	}
	return t, true
}

// Set assigns a field. Base keys update the header instead.
func (r *Record) Set(key string, value any) {
	switch key {
	case KeyID:
		r.ID = asString(value)
		return
	case KeyCreatedBy:
		r.CreatedBy = asString(value)
		return
	case KeyCreatedAt, KeyUpdatedAt:
		if t, err := parseTime(value); err == nil {
			if key == KeyCreatedAt {
				r.CreatedAt = t
			} else {
				r.UpdatedAt = t
			}
		}
		return
	}
	if r.Fields == nil {
		r.Fields = make(map[string]any)
	}
	r.Fields[key] = value
}

// Merge overlays patch onto the record: new fields win, unspecified fields
// persist. Header keys in patch are ignored.
func (r *Record) Merge(patch Record) {
	for k, v := range patch.Fields {
		if r.Fields == nil {
			r.Fields = make(map[string]any, len(patch.Fields))
		}
		r.Fields[k] = v
	}
}

func cloneFields(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		return cloneFields(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

func asString(v any) string {
	switch typed := v.(type) {
	case nil:
		return ""
	case string:
		return typed
	case json.Number:
		return typed.String()
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}

func asDecimal(v any) decimal.Decimal {
	switch typed := v.(type) {
	case decimal.Decimal:
		return typed
	case json.Number:
		d, err := decimal.NewFromString(typed.String())
		if err != nil {
			return decimal.Zero
		}
		return d
	case string:
		d, err := decimal.NewFromString(typed)
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(typed)
	case float32:
		return decimal.NewFromFloat32(typed)
	case int:
		return decimal.NewFromInt(int64(typed))
	case int64:
		return decimal.NewFromInt(typed)
	case int32:
		return decimal.NewFromInt32(typed)
	default:
		return decimal.Zero
	}
}

func parseTime(v any) (time.Time, error) {
	switch typed := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return typed, nil
	case string:
		if typed == "" {
			return time.Time{}, nil
		}
		return time.Parse(time.RFC3339Nano, typed)
	default:
		return time.Time{}, fmt.Errorf("unsupported timestamp %T", v)
	}
}
