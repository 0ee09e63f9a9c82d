package value

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrUnsupportedShape is returned when decoding meets a JSON shape
	// outside the supported union.
	ErrUnsupportedShape = errors.New("unsupported value shape")
	// ErrEmptyPayload is returned when decoding an empty byte slice.
	ErrEmptyPayload = errors.New("empty value payload")
)

// Encode serializes the value to its canonical JSON storage form.
func Encode(v Value) ([]byte, error) {
	raw, err := json.Marshal(toInterface(v))
	if err != nil {
		return nil, errors.Wrap(err, "encode setting value")
	}

	return raw, nil
}

// Decode parses a stored JSON payload back into a Value. Integers and
// floats are kept distinct: a JSON number without a fraction or exponent
// decodes as an int.
func Decode(raw []byte) (Value, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Value{}, ErrEmptyPayload
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return Value{}, errors.Wrap(err, "decode setting value")
	}

	return fromInterface(payload)
}

// MustDecode is Decode for compiled-in payloads known to be well formed.
func MustDecode(raw []byte) Value {
	v, err := Decode(raw)
	if err != nil {
		panic(err)
	}

	return v
}

func toInterface(v Value) any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindList:
		items := make([]any, len(v.list))
		for i, item := range v.list {
			items[i] = toInterface(item)
		}

		return items
	case KindObject:
		fields := make(map[string]any, len(v.obj))
		for name, f := range v.obj {
			fields[name] = toInterface(f)
		}

		return fields
	default:
		return nil
	}
}

func fromInterface(payload any) (Value, error) {
	switch p := payload.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(p), nil
	case string:
		return String(p), nil
	case json.Number:
		return fromNumber(p)
	case []any:
		items := make([]Value, len(p))
		for i, item := range p {
			v, err := fromInterface(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}

		return List(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(p))
		for name, item := range p {
			v, err := fromInterface(item)
			if err != nil {
				return Value{}, err
			}
			fields[name] = v
		}

		return Object(fields), nil
	default:
		return Value{}, errors.Wrapf(ErrUnsupportedShape, "%T", payload)
	}
}

func fromNumber(n json.Number) (Value, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		i, err := n.Int64()
		if err == nil {
			return Int(i), nil
		}
		// fall through to float for out-of-range integers
	}

	f, err := n.Float64()
	if err != nil {
		return Value{}, errors.Wrap(ErrUnsupportedShape, s)
	}

	return Float(f), nil
}

// Native converts a Value to its plain Go representation, mainly for
// handing values to the validator and to JSON API responses.
func Native(v Value) any {
	return toInterface(v)
}

// FromNative builds a Value from a plain Go representation, such as a
// decoded API request body.
func FromNative(payload any) (Value, error) {
	// normalize through the codec so numeric types collapse to the
	// int/float split the union expects
	raw, err := json.Marshal(payload)
	if err != nil {
		return Value{}, errors.Wrap(err, "normalize native value")
	}

	return Decode(raw)
}
