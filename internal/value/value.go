// Package value implements the typed value model of §3: a tagged variant
// over integer, float, string and boolean signals, plus the distinguished
// Undefined value that soft errors collapse into.
package value

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindUndefined Kind = iota
	KindInt
	KindFloat
	KindString
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBool:
		return "bool"
	default:
		return "undefined"
	}
}

// Value is an immutable tagged variant. The zero Value is Undefined.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
	b    bool
}

var Undefined = Value{kind: KindUndefined}

func Int(n int64) Value       { return Value{kind: KindInt, i: n} }
func Float(f float64) Value   { return Value{kind: KindFloat, f: f} }
func String(s string) Value   { return Value{kind: KindString, s: s} }
func Bool(b bool) Value       { return Value{kind: KindBool, b: b} }

func (v Value) Kind() Kind       { return v.kind }
func (v Value) IsUndefined() bool { return v.kind == KindUndefined }

func (v Value) AsInt() int64     { return v.i }
func (v Value) AsFloat() float64 { return v.f }
func (v Value) AsString() string { return v.s }
func (v Value) AsBool() bool     { return v.b }

// Float64 returns the numeric value coerced to float64, used by cross-type
// numeric comparisons (§3: "Comparison across numeric types coerces to
// float"). ok is false for non-numeric kinds.
func (v Value) Float64() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

func (v Value) isNumeric() bool { return v.kind == KindInt || v.kind == KindFloat }

// Truth reports gating truth per §4.A: Undefined is "not true".
func (v Value) Truth() bool {
	return v.kind == KindBool && v.b
}

// Equal implements same-kind equality; an Int and a Float compare by their
// float64 value, and every other cross-kind pair yields false (callers
// needing Undefined propagation on touch should check IsUndefined on the
// operands before calling Equal).
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		if v.isNumeric() && other.isNumeric() {
			a, _ := v.Float64()
			b, _ := other.Float64()
			return a == b
		}
		return false
	}
	switch v.kind {
	case KindInt:
		return v.i == other.i
	case KindFloat:
		return v.f == other.f
	case KindString:
		return v.s == other.s
	case KindBool:
		return v.b == other.b
	default:
		return true // Undefined == Undefined: Eval never gets here (it short-circuits Undefined operands); Store.Set's change detection can
	}
}

// Literal renders v as the short string literal format used by §6's
// output/capture line protocols ("True"/"False"/quoted strings/plain
// numbers).
func (v Value) Literal() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		if v.b {
			return "True"
		}
		return "False"
	case KindString:
		return quoteLiteral(v.s)
	default:
		return "<undefined>"
	}
}

func quoteLiteral(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'':
			b.WriteString(`\'`)
		case '\\':
			b.WriteString(`\\`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// ParseLiteral parses a short literal (§6 input grammar: integer, float,
// true/false/True/False, or quoted string with \' \\ escapes) into a Value.
func ParseLiteral(tok string) (Value, error) {
	tok = strings.TrimSpace(tok)
	switch tok {
	case "true", "True":
		return Bool(true), nil
	case "false", "False":
		return Bool(false), nil
	}
	if len(tok) >= 2 && tok[0] == '\'' && tok[len(tok)-1] == '\'' {
		return String(unquoteLiteral(tok[1 : len(tok)-1])), nil
	}
	if len(tok) >= 2 && tok[0] == '"' && tok[len(tok)-1] == '"' {
		return String(unquoteLiteral(tok[1 : len(tok)-1])), nil
	}
	if n, err := strconv.ParseInt(tok, 10, 64); err == nil {
		return Int(n), nil
	}
	if f, err := strconv.ParseFloat(tok, 64); err == nil {
		return Float(f), nil
	}
	return Undefined, fmt.Errorf("value: cannot parse literal %q", tok)
}

func unquoteLiteral(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '\'', '"', '\\':
				b.WriteByte(s[i+1])
				i++
				continue
			case 'n':
				b.WriteByte('\n')
				i++
				continue
			case 't':
				b.WriteByte('\t')
				i++
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
