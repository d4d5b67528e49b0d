// Package censushash computes the fingerprint anchored on the ledger for an off-chain census record.
//
// The digest is SHA-256 over a canonical JSON object holding the hashable fields present in the
// record, keys sorted, every value rendered as a string, no whitespace and non-ASCII characters
// escaped as \uXXXX. Records hashed by other systems using the same rules produce identical digests.
package censushash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Fields lists the record attributes covered by the hash. Workflow metadata such as
// flag_status is deliberately absent so re-flagging does not change the fingerprint.
var Fields = []string{
	"record_id", "household_id", "name", "age", "sex", "relation",
	"caste", "income", "region", "district", "state", "pin_code",
	"latitude", "longitude", "welfare_score", "ration_card_type",
	"scheme_enrollment_count", "employment_status", "occupation_category",
	"sector", "housing_type", "water_source", "toilet_access",
	"cooking_fuel", "internet_access", "household_size",
	"parent_id", "spouse_id",
}

var sortedFields = func() []string {
	f := append([]string(nil), Fields...)
	sort.Strings(f)
	return f
}()

// Record is a decoded off-chain census record.
type Record map[string]any

// Decode reads one JSON object. Numbers keep their literal form until they are rendered.
func Decode(r io.Reader) (Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var rec Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode census record: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("decode census record: not a JSON object")
	}
	return rec, nil
}

// Canonical returns the canonical JSON form of rec.
func Canonical(rec Record) []byte {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, field := range sortedFields {
		v, ok := rec[field]
		if !ok {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		writeString(&buf, field)
		buf.WriteByte(':')
		writeString(&buf, stringify(v))
	}
	buf.WriteByte('}')
	return buf.Bytes()
}

// Compute returns the hex-encoded SHA-256 of the canonical form of rec.
func Compute(rec Record) string {
	sum := sha256.Sum256(Canonical(rec))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether rec hashes to expected. Comparison is exact.
func Verify(rec Record, expected string) bool {
	return Compute(rec) == expected
}

// String returns field rendered the way it is hashed, or "" when absent.
func (r Record) String(field string) string {
	v, ok := r[field]
	if !ok || v == nil {
		return ""
	}
	return stringify(v)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return formatNumber(t)
	case bool:
		if t {
			return "True"
		}
		return "False"
	case float64:
		return formatFloat(t)
	case float32:
		return formatFloat(float64(t))
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// formatFloat renders numbers that lost their literal form (e.g. decoded into float64 by a
// transport) the way they are usually written in source records: integral values without a
// fraction, others in shortest form.
func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f) || math.IsInf(f, 0):
		return strconv.FormatFloat(f, 'g', -1, 64)
	case f == math.Trunc(f) && math.Abs(f) < 1e16:
		return strconv.FormatInt(int64(f), 10)
	case math.Abs(f) >= 1e-4 && math.Abs(f) < 1e16:
		return strconv.FormatFloat(f, 'f', -1, 64)
	default:
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
}

// formatNumber renders a JSON number literal the way a parsed value is printed by the record
// producers: integer literals as exact integers, literals with a fraction or exponent as
// binary64 in shortest round-trip form, always carrying a fraction or an exponent.
func formatNumber(n json.Number) string {
	lit := n.String()
	if !strings.ContainsAny(lit, ".eE") {
		if i, ok := new(big.Int).SetString(lit, 10); ok {
			return i.String()
		}
		return lit
	}
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return lit
	}
	return reprFloat(f)
}

// reprFloat uses fixed notation when the decimal exponent lies in [-4, 16) and scientific
// notation with a signed, two-digit exponent otherwise.
func reprFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}

	s := strconv.FormatFloat(f, 'e', -1, 64)
	sign := ""
	if s[0] == '-' {
		sign, s = "-", s[1:]
	}
	mant, expPart, _ := strings.Cut(s, "e")
	exp, _ := strconv.Atoi(expPart)
	digits := strings.Replace(mant, ".", "", 1)
	if f == 0 {
		return sign + "0.0"
	}

	decpt := exp + 1
	if decpt > -4 && decpt <= 16 {
		switch {
		case decpt <= 0:
			return sign + "0." + strings.Repeat("0", -decpt) + digits
		case decpt >= len(digits):
			return sign + digits + strings.Repeat("0", decpt-len(digits)) + ".0"
		default:
			return sign + digits[:decpt] + "." + digits[decpt:]
		}
	}

	out := sign + digits[:1]
	if len(digits) > 1 {
		out += "." + digits[1:]
	}
	expSign := "+"
	if exp < 0 {
		expSign, exp = "-", -exp
	}
	return fmt.Sprintf("%se%s%02d", out, expSign, exp)
}

const hexDigits = "0123456789abcdef"

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			switch {
			case r < 0x20:
				writeEscape(buf, r)
			case r < utf8.RuneSelf:
				buf.WriteByte(byte(r))
			case r > 0xFFFF:
				r1, r2 := utf16.EncodeRune(r)
				writeEscape(buf, r1)
				writeEscape(buf, r2)
			default:
				writeEscape(buf, r)
			}
		}
	}
	buf.WriteByte('"')
}

func writeEscape(buf *bytes.Buffer, r rune) {
	buf.WriteString(`\u`)
	buf.WriteByte(hexDigits[(r>>12)&0xF])
	buf.WriteByte(hexDigits[(r>>8)&0xF])
	buf.WriteByte(hexDigits[(r>>4)&0xF])
	buf.WriteByte(hexDigits[r&0xF])
}
