package robot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/op13/liquidplan/fault"
	"github.com/op13/liquidplan/pipette"
	"github.com/op13/liquidplan/transfer"
	"github.com/op13/liquidplan/util"
)

// Verbs understood by the robot
const (
	VerbDistribute = "DIST"
	VerbTransfer   = "XFER"
	VerbHome       = "HOME"
	VerbOK         = "OK"
	VerbErr        = "ERR"
)

// ErrRobot is the fallback for robot error codes with no sentinel
var ErrRobot = errors.New("robot error")

// codes maps robot error codes to sentinels
var codes = []struct {
	code string
	err  error
}{
	{"E01", fault.ErrOutOfTips},
	{"E02", fault.ErrLabwareMissing},
	{"E03", fault.ErrVolumeRange},
	{"E99", ErrRobot},
}

// Error is an error reply from the robot
type Error struct {
	Code string
	Msg  string
	err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("robot %s: %s", e.Code, e.Msg)
}

// Unwrap returns the fault sentinel for the code
func (e *Error) Unwrap() error { return e.err }

func errorFromCode(code, msg string) error {
	for _, c := range codes {
		if c.code == code {
			return &Error{Code: code, Msg: msg, err: c.err}
		}
	}
	return &Error{Code: code, Msg: msg, err: ErrRobot}
}

func codeFromError(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "E99"
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func btoa(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func floatsToCSV(fs []float64) string {
	s := make([]string, len(fs))
	for i, f := range fs {
		s[i] = ftoa(f)
	}
	return strings.Join(s, ",")
}

func location(l transfer.Location) string {
	return l.Labware + ":" + strconv.Itoa(l.Well)
}

func setOptions(t *Telegram, o transfer.Options) {
	t.Set("tip", o.Tip.String())
	if o.Disposal != 0 {
		t.Set("disposal", ftoa(o.Disposal))
	}
	if o.TouchTip {
		t.Set("touch", btoa(o.TouchTip))
	}
	if o.DispenseHeight != 0 {
		t.Set("height", ftoa(o.DispenseHeight))
	}
	if o.BlowOut {
		t.Set("blowout", btoa(o.BlowOut))
	}
	if m := o.Mix; m != nil {
		t.Set("mix", fmt.Sprintf("%d,%s,%s", m.Cycles, ftoa(m.Volume), m.Instrument.Name))
	}
}

// EncodeBroadcast builds the DIST telegram for a broadcast
func EncodeBroadcast(seq uint16, b transfer.Broadcast) Telegram {
	t := Telegram{Seq: seq, Verb: VerbDistribute}
	t.Set("inst", b.Instrument.Name)
	t.Set("src", location(b.Source))
	t.Set("dest", b.Dest)
	t.Set("wells", util.IntSliceToCSV(b.Wells))
	t.Set("vol", ftoa(b.Volume))
	setOptions(&t, b.Options)
	return t
}

// EncodePaired builds the XFER telegram for a paired transfer
func EncodePaired(seq uint16, p transfer.Paired) Telegram {
	t := Telegram{Seq: seq, Verb: VerbTransfer}
	t.Set("inst", p.Instrument.Name)
	t.Set("src", location(p.Source))
	t.Set("dest", p.Dest)
	t.Set("wells", util.IntSliceToCSV(p.Wells))
	t.Set("vols", floatsToCSV(p.Volumes))
	setOptions(&t, p.Options)
	return t
}

type fieldReader struct {
	t    Telegram
	errs []error
}

func (r *fieldReader) str(key string, required bool) string {
	v, ok := r.t.Get(key)
	if !ok && required {
		r.errs = append(r.errs, fmt.Errorf("%w: missing %s", ErrMalformed, key))
	}
	return v
}

func (r *fieldReader) float(key string) float64 {
	v := r.str(key, false)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%w: %s=%q", ErrMalformed, key, v))
	}
	return f
}

func (r *fieldReader) instrument(name string) pipette.Instrument {
	inst, err := pipette.Lookup(name)
	if err != nil {
		r.errs = append(r.errs, err)
	}
	return inst
}

func (r *fieldReader) location(key string) transfer.Location {
	v := r.str(key, true)
	i := strings.LastIndexByte(v, ':')
	if i < 0 {
		r.errs = append(r.errs, fmt.Errorf("%w: %s=%q", ErrMalformed, key, v))
		return transfer.Location{}
	}
	well, err := strconv.Atoi(v[i+1:])
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%w: %s=%q", ErrMalformed, key, v))
	}
	return transfer.Location{Labware: v[:i], Well: well}
}

func (r *fieldReader) wells() []int {
	w, err := util.CSVToIntSlice(r.str("wells", true))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%w: wells: %v", ErrMalformed, err))
	}
	return w
}

func (r *fieldReader) options() transfer.Options {
	var o transfer.Options
	if err := o.Tip.UnmarshalText([]byte(r.str("tip", false))); err != nil {
		r.errs = append(r.errs, fmt.Errorf("%w: %v", ErrMalformed, err))
	}
	o.Disposal = r.float("disposal")
	o.TouchTip = r.str("touch", false) == "1"
	o.DispenseHeight = r.float("height")
	o.BlowOut = r.str("blowout", false) == "1"
	if v := r.str("mix", false); v != "" {
		parts := strings.Split(v, ",")
		if len(parts) != 3 {
			r.errs = append(r.errs, fmt.Errorf("%w: mix=%q", ErrMalformed, v))
			return o
		}
		cycles, err1 := strconv.Atoi(parts[0])
		vol, err2 := strconv.ParseFloat(parts[1], 64)
		if err := errors.Join(err1, err2); err != nil {
			r.errs = append(r.errs, fmt.Errorf("%w: mix=%q", ErrMalformed, v))
		}
		o.Mix = &transfer.Mix{Cycles: cycles, Volume: vol, Instrument: r.instrument(parts[2])}
	}
	return o
}

// DecodeOp turns a DIST or XFER telegram back into an operation.
// Instruments are resolved through the pipette catalogue.
func DecodeOp(t Telegram) (transfer.Op, error) {
	r := &fieldReader{t: t}
	inst := r.instrument(r.str("inst", true))
	src := r.location("src")
	dest := r.str("dest", true)
	wells := r.wells()
	opts := r.options()
	var op transfer.Op
	switch t.Verb {
	case VerbDistribute:
		op = transfer.Broadcast{
			Instrument: inst, Source: src, Dest: dest, Wells: wells,
			Volume: r.float("vol"), Options: opts,
		}
	case VerbTransfer:
		var vols []float64
		for _, s := range strings.Split(r.str("vols", true), ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				r.errs = append(r.errs, fmt.Errorf("%w: vols", ErrMalformed))
				break
			}
			vols = append(vols, f)
		}
		if len(vols) != len(wells) {
			r.errs = append(r.errs, fmt.Errorf("%w: %d vols for %d wells", ErrMalformed, len(vols), len(wells)))
		}
		op = transfer.Paired{
			Instrument: inst, Source: src, Dest: dest, Wells: wells,
			Volumes: vols, Options: opts,
		}
	default:
		return nil, fmt.Errorf("%w: verb %q", ErrMalformed, t.Verb)
	}
	if err := errors.Join(r.errs...); err != nil {
		return nil, err
	}
	return op, nil
}
