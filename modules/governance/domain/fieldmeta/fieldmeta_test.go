package fieldmeta

import (
	"errors"
	"testing"
	"time"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		name    string
		field   Field
		raw     string
		want    any
		wantErr bool
	}{
		{"string passthrough", Field{Name: "address", Kind: KindString}, "12 Elm St", "12 Elm St", false},
		{"geometry passthrough", Field{Name: "geom", Kind: KindGeometry}, "POINT(1 2)", "POINT(1 2)", false},
		{"int", Field{Name: "count", Kind: KindInt}, " 42 ", int64(42), false},
		{"int invalid", Field{Name: "count", Kind: KindInt}, "4.2", nil, true},
		{"float", Field{Name: "width", Kind: KindFloat}, "3.5", 3.5, false},
		{"float invalid", Field{Name: "width", Kind: KindFloat}, "wide", nil, true},
		{"bool", Field{Name: "alive", Kind: KindBool}, "true", true, false},
		{"bool invalid", Field{Name: "alive", Kind: KindBool}, "yep", nil, true},
		{"date", Field{Name: "planted", Kind: KindDate}, "2023-04-01", time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC), false},
		{"date invalid", Field{Name: "planted", Kind: KindDate}, "01/04/2023", nil, true},
		{"ref", Field{Name: "plot", Kind: KindRef, RefType: "plot"}, "7", int64(7), false},
		{"ref invalid", Field{Name: "plot", Kind: KindRef, RefType: "plot"}, "seven", nil, true},
	}
	for _, tt := range tests {
		got, err := ParseValue(tt.field, tt.raw)
		if tt.wantErr {
			var valErr *ValueError
			if !errors.As(err, &valErr) {
				t.Fatalf("%s: err = %v, want ValueError", tt.name, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: got %v (%T), want %v (%T)", tt.name, got, got, tt.want, tt.want)
		}
	}
}

func TestFormatValue_RoundTrips(t *testing.T) {
	tests := []struct {
		name  string
		field Field
		value any
		want  string
	}{
		{"int64", Field{Name: "count", Kind: KindInt}, int64(42), "42"},
		{"int", Field{Name: "count", Kind: KindInt}, 42, "42"},
		{"float", Field{Name: "width", Kind: KindFloat}, 3.5, "3.5"},
		{"bool", Field{Name: "alive", Kind: KindBool}, true, "true"},
		{"date", Field{Name: "planted", Kind: KindDate}, time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC), "2023-04-01"},
		{"string", Field{Name: "address", Kind: KindString}, "12 Elm St", "12 Elm St"},
	}
	for _, tt := range tests {
		got, err := FormatValue(tt.field, tt.value)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got != tt.want {
			t.Fatalf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}

	if _, err := FormatValue(Field{Name: "x", Kind: KindString}, struct{}{}); err == nil {
		t.Fatalf("unsupported type accepted")
	}
}

func TestValidKind(t *testing.T) {
	for _, kind := range []Kind{KindString, KindInt, KindFloat, KindBool, KindDate, KindGeometry, KindRef} {
		if !ValidKind(kind) {
			t.Fatalf("%s reported invalid", kind)
		}
	}
	if ValidKind(Kind("decimal")) {
		t.Fatalf("unknown kind reported valid")
	}
}
