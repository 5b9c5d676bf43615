package fieldmeta

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind names the storable shape of a tracked field. Audit rows carry every
// value as a serialized string; Kind decides how that string is validated
// and deserialized at the boundary.
type Kind string

const (
	KindString   Kind = "string"
	KindInt      Kind = "int"
	KindFloat    Kind = "float"
	KindBool     Kind = "bool"
	KindDate     Kind = "date"
	KindGeometry Kind = "geometry"
	KindRef      Kind = "ref"
)

const dateLayout = "2006-01-02"

func ValidKind(k Kind) bool {
	switch k {
	case KindString, KindInt, KindFloat, KindBool, KindDate, KindGeometry, KindRef:
		return true
	default:
		return false
	}
}

// Field describes one tracked field of a registered record type.
type Field struct {
	Name       string
	Kind       Kind
	Required   bool
	HasDefault bool
	// RefType is the registered type a KindRef field points at.
	RefType string
}

func (f Field) IsRef() bool {
	return f.Kind == KindRef
}

// ValueError reports a serialized value that does not deserialize under the
// field's kind.
type ValueError struct {
	Field string
	Kind  Kind
	Raw   string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("fieldmeta: %q is not a valid %s value for field %s", e.Raw, e.Kind, e.Field)
}

// ParseValue deserializes a stored string into the field's native value.
// Geometry values are opaque to this layer and pass through unchanged.
func ParseValue(f Field, raw string) (any, error) {
	switch f.Kind {
	case KindString, KindGeometry:
		return raw, nil
	case KindInt:
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, &ValueError{Field: f.Name, Kind: f.Kind, Raw: raw}
		}
		return v, nil
	case KindFloat:
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, &ValueError{Field: f.Name, Kind: f.Kind, Raw: raw}
		}
		return v, nil
	case KindBool:
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, &ValueError{Field: f.Name, Kind: f.Kind, Raw: raw}
		}
		return v, nil
	case KindDate:
		v, err := time.Parse(dateLayout, strings.TrimSpace(raw))
		if err != nil {
			return nil, &ValueError{Field: f.Name, Kind: f.Kind, Raw: raw}
		}
		return v, nil
	case KindRef:
		v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, &ValueError{Field: f.Name, Kind: f.Kind, Raw: raw}
		}
		return v, nil
	default:
		return nil, &ValueError{Field: f.Name, Kind: f.Kind, Raw: raw}
	}
}

// ValidateValue checks a serialized value without materializing it.
func ValidateValue(f Field, raw string) error {
	_, err := ParseValue(f, raw)
	return err
}

// FormatValue serializes a native value back to the stored string form.
func FormatValue(f Field, v any) (string, error) {
	switch value := v.(type) {
	case string:
		return value, nil
	case int64:
		return strconv.FormatInt(value, 10), nil
	case int:
		return strconv.Itoa(value), nil
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(value), nil
	case time.Time:
		return value.Format(dateLayout), nil
	default:
		return "", fmt.Errorf("fieldmeta: unsupported value type %T for field %s", v, f.Name)
	}
}
