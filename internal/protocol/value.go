// Package protocol implements the zindex wire format.
//
// Every message is a frame: a 4-byte little-endian body length followed by
// the body. A request body is a list of byte strings:
//
//	u32 nstr | u32 len | bytes | u32 len | bytes | ...
//
// A response body is one tagged value:
//
//	NIL 0 |
//	ERR 1 | i32 code | u32 len | message
//	STR 2 | u32 len | bytes
//	INT 3 | i64
//	DBL 4 | f64
//	ARR 5 | u32 n | n values
//
// All integers are little-endian.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Tag identifies the type of a response value.
type Tag byte

const (
	TagNil Tag = 0
	TagErr Tag = 1
	TagStr Tag = 2
	TagInt Tag = 3
	TagDbl Tag = 4
	TagArr Tag = 5
)

// Error codes carried by ERR values.
const (
	ErrCodeUnknown int32 = 1 // unknown command
	ErrCodeTooBig  int32 = 2 // response exceeds the frame limit
	ErrCodeArg     int32 = 4 // bad arguments
)

// DefaultMaxMessageSize is the frame body limit used unless configured.
const DefaultMaxMessageSize = 4096

// Value is one response value.
type Value struct {
	Tag  Tag
	Code int32   // TagErr
	Str  string  // TagErr message, TagStr
	Int  int64   // TagInt
	Dbl  float64 // TagDbl
	Arr  []Value // TagArr
}

// Nil returns the NIL value.
func Nil() Value { return Value{Tag: TagNil} }

// Err returns an ERR value.
func Err(code int32, msg string) Value { return Value{Tag: TagErr, Code: code, Str: msg} }

// Str returns a STR value.
func Str(s string) Value { return Value{Tag: TagStr, Str: s} }

// Int returns an INT value.
func Int(i int64) Value { return Value{Tag: TagInt, Int: i} }

// Dbl returns a DBL value.
func Dbl(f float64) Value { return Value{Tag: TagDbl, Dbl: f} }

// Arr returns an ARR value.
func Arr(vs ...Value) Value {
	if vs == nil {
		vs = []Value{}
	}
	return Value{Tag: TagArr, Arr: vs}
}

// IsErr reports whether v is an ERR value.
func (v Value) IsErr() bool { return v.Tag == TagErr }

// String renders v the way the command-line client prints it.
func (v Value) String() string {
	var b strings.Builder
	v.format(&b, "")
	return strings.TrimSuffix(b.String(), "\n")
}

func (v Value) format(b *strings.Builder, indent string) {
	b.WriteString(indent)
	switch v.Tag {
	case TagNil:
		b.WriteString("(nil)\n")
	case TagErr:
		fmt.Fprintf(b, "(err) %d %s\n", v.Code, v.Str)
	case TagStr:
		fmt.Fprintf(b, "(str) %s\n", v.Str)
	case TagInt:
		fmt.Fprintf(b, "(int) %d\n", v.Int)
	case TagDbl:
		fmt.Fprintf(b, "(dbl) %s\n", strconv.FormatFloat(v.Dbl, 'g', -1, 64))
	case TagArr:
		fmt.Fprintf(b, "(arr) len=%d\n", len(v.Arr))
		for _, e := range v.Arr {
			e.format(b, indent+"  ")
		}
		b.WriteString(indent)
		b.WriteString("(arr) end\n")
	default:
		fmt.Fprintf(b, "(unknown tag %d)\n", v.Tag)
	}
}
