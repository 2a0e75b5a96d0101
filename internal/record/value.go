package record

import (
	"fmt"

	"github.com/roach88/contactsd/internal/schema"
)

// Value is a scalar property value. The set of implementations is closed:
// Int, String, Bool, Int64 and Double.
//
// Values are comparable with ==.
type Value interface {
	// Type returns the semantic type the value satisfies.
	Type() schema.Type
	isValue()
}

// Int is the value of an int property.
type Int int

// String is the value of a string property.
type String string

// Bool is the value of a bool property.
type Bool bool

// Int64 is the value of an int64 property.
type Int64 int64

// Double is the value of a double property.
type Double float64

func (Int) Type() schema.Type    { return schema.TypeInt }
func (String) Type() schema.Type { return schema.TypeString }
func (Bool) Type() schema.Type   { return schema.TypeBool }
func (Int64) Type() schema.Type  { return schema.TypeInt64 }
func (Double) Type() schema.Type { return schema.TypeDouble }

func (Int) isValue()    {}
func (String) isValue() {}
func (Bool) isValue()   {}
func (Int64) isValue()  {}
func (Double) isValue() {}

// FromAny converts a native Go value to a Value of type t.
// It accepts the shapes produced by database/sql scanning and YAML/JSON
// decoding: integers of any width, float64, string, []byte and bool.
// A nil input yields a nil Value.
func FromAny(t schema.Type, v any) (Value, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case schema.TypeInt:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return Int(n), nil
	case schema.TypeInt64:
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return Int64(n), nil
	case schema.TypeDouble:
		switch x := v.(type) {
		case float64:
			return Double(x), nil
		case float32:
			return Double(x), nil
		}
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return Double(n), nil
	case schema.TypeString:
		switch x := v.(type) {
		case string:
			return String(x), nil
		case []byte:
			return String(x), nil
		}
		return nil, fmt.Errorf("cannot use %T as string", v)
	case schema.TypeBool:
		switch x := v.(type) {
		case bool:
			return Bool(x), nil
		}
		n, err := toInt64(v)
		if err != nil {
			return nil, err
		}
		return Bool(n != 0), nil
	}
	return nil, fmt.Errorf("no scalar conversion for type %s", t)
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case float64:
		if x != float64(int64(x)) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int64(x), nil
	}
	return 0, fmt.Errorf("cannot use %T as integer", v)
}

// Native returns the database/sql parameter form of v.
func Native(v Value) any {
	switch x := v.(type) {
	case Int:
		return int64(x)
	case String:
		return string(x)
	case Bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case Int64:
		return int64(x)
	case Double:
		return float64(x)
	}
	return nil
}
