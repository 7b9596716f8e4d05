package robot

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/snksoft/crc"
)

// telegrams are ASCII lines of the form
//
//	[SEQ] [VERB] [key=value ...]*[CRC]
//
// where CRC is the CRC-16/XMODEM of everything before the '*', as four hex
// digits.  Values containing spaces, quotes, '=' or '*' are Go-quoted.

var (
	crcTable = crc.NewTable(crc.XMODEM)

	// ErrCRC is generated when a telegram's checksum does not match
	ErrCRC = errors.New("telegram CRC mismatch")

	// ErrMalformed is generated for a telegram that cannot be parsed
	ErrMalformed = errors.New("malformed telegram")
)

// Field is one key=value pair of a telegram
type Field struct {
	Key, Value string
}

// Telegram is a single message in either direction
type Telegram struct {
	Seq    uint16
	Verb   string
	Fields []Field
}

// Get returns the value of a field, and if it was present
func (t Telegram) Get(key string) (string, bool) {
	for _, f := range t.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Set appends a field
func (t *Telegram) Set(key, value string) {
	t.Fields = append(t.Fields, Field{Key: key, Value: value})
}

func needsQuote(s string) bool {
	return s == "" || strings.ContainsAny(s, " \t\"=*\r\n")
}

// Encode produces the wire form, without line terminator
func (t Telegram) Encode() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%d %s", t.Seq, t.Verb)
	for _, f := range t.Fields {
		b.WriteByte(' ')
		b.WriteString(f.Key)
		b.WriteByte('=')
		if needsQuote(f.Value) {
			b.WriteString(strconv.Quote(f.Value))
		} else {
			b.WriteString(f.Value)
		}
	}
	sum := crcTable.CalculateCRC(b.Bytes())
	fmt.Fprintf(&b, "*%04X", sum)
	return b.Bytes()
}

// Decode parses and checks the wire form
func Decode(line []byte) (Telegram, error) {
	star := bytes.LastIndexByte(line, '*')
	if star < 0 {
		return Telegram{}, fmt.Errorf("%w: no checksum in %q", ErrMalformed, line)
	}
	body, sum := line[:star], string(line[star+1:])
	want, err := strconv.ParseUint(sum, 16, 16)
	if err != nil {
		return Telegram{}, fmt.Errorf("%w: checksum %q", ErrMalformed, sum)
	}
	if got := crcTable.CalculateCRC(body); got != want {
		return Telegram{}, fmt.Errorf("%w: got %04X want %04X", ErrCRC, got, want)
	}

	rest := string(body)
	head := strings.SplitN(rest, " ", 3)
	if len(head) < 2 {
		return Telegram{}, fmt.Errorf("%w: %q", ErrMalformed, rest)
	}
	seq, err := strconv.ParseUint(head[0], 10, 16)
	if err != nil {
		return Telegram{}, fmt.Errorf("%w: sequence %q", ErrMalformed, head[0])
	}
	t := Telegram{Seq: uint16(seq), Verb: head[1]}
	if len(head) == 3 {
		rest = head[2]
	} else {
		rest = ""
	}
	for {
		rest = strings.TrimLeft(rest, " ")
		if rest == "" {
			break
		}
		eq := strings.IndexByte(rest, '=')
		if eq <= 0 || strings.ContainsAny(rest[:eq], " \"") {
			return Telegram{}, fmt.Errorf("%w: field %q", ErrMalformed, rest)
		}
		key := rest[:eq]
		rest = rest[eq+1:]
		var val string
		if strings.HasPrefix(rest, `"`) {
			q, err := strconv.QuotedPrefix(rest)
			if err != nil {
				return Telegram{}, fmt.Errorf("%w: value of %s", ErrMalformed, key)
			}
			val, _ = strconv.Unquote(q)
			rest = rest[len(q):]
		} else if sp := strings.IndexByte(rest, ' '); sp >= 0 {
			val, rest = rest[:sp], rest[sp:]
		} else {
			val, rest = rest, ""
		}
		t.Set(key, val)
	}
	return t, nil
}
