package dilution

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/op13/liquidplan/fault"
)

// ErrTable is generated for a malformed dilution table
var ErrTable = errors.New("malformed dilution table")

// Row is one line of a dilution table: step_index,source_volume,diluent_volume.
// Step 0 is the stock tube and does not appear; row n is made by drawing
// Source from tube n-1 into tube n, which already holds Diluent.
type Row struct {
	Step    int
	Source  float64
	Diluent float64
}

func readRecords(r io.Reader, header bool) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true
	cr.Comment = '#'
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTable, err)
	}
	if header && len(records) > 0 {
		records = records[1:]
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrTable)
	}
	return records, nil
}

// ReadTable parses the plain CSV form.  The machine-consumed form has no
// header; set header to skip the first line of a spreadsheet export.
func ReadTable(r io.Reader, header bool) ([]Row, error) {
	records, err := readRecords(r, header)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(records))
	for i, rec := range records {
		row, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrTable, i+1, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadSteps parses chain steps as CSV lines of wells,volume_per_well,factor
func ReadSteps(r io.Reader, header bool) ([]Step, error) {
	records, err := readRecords(r, header)
	if err != nil {
		return nil, err
	}
	steps := make([]Step, 0, len(records))
	for i, rec := range records {
		wells, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(rec[0]), "\ufeff"))
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrTable, i+1, err)
		}
		vpw, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrTable, i+1, err)
		}
		factor, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrTable, i+1, err)
		}
		steps = append(steps, Step{Wells: wells, VolumePerWell: vpw, Factor: factor})
	}
	return steps, nil
}

func parseRow(rec []string) (Row, error) {
	// spreadsheet exports sometimes lead with a byte order mark
	step, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(rec[0]), "\ufeff"))
	if err != nil {
		return Row{}, err
	}
	src, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
	if err != nil {
		return Row{}, err
	}
	dil, err := strconv.ParseFloat(strings.TrimSpace(rec[2]), 64)
	if err != nil {
		return Row{}, err
	}
	return Row{Step: step, Source: src, Diluent: dil}, nil
}

// FromTable turns table rows into a chain ready for execution.  Steps must
// be consecutive and start at 1; volumes must be non-negative and every step
// must draw some source.
func FromTable(rows []Row) (Chain, error) {
	if len(rows) == 0 {
		return Chain{}, fault.Config("table", 0, ErrNoSteps)
	}
	out := make([]Planned, len(rows))
	for i, r := range rows {
		param := fmt.Sprintf("table[%d]", i)
		if r.Step != i+1 {
			return Chain{}, fault.Config(param+".step", r.Step, fmt.Errorf("%w: expected step %d", ErrTable, i+1))
		}
		if r.Source <= 0 {
			return Chain{}, fault.Config(param+".source", r.Source, ErrVolume)
		}
		if r.Diluent < 0 {
			return Chain{}, fault.Config(param+".diluent", r.Diluent, errors.New("must be >= 0"))
		}
		total := r.Source + r.Diluent
		out[i] = Planned{
			Index:    i,
			Factor:   total / r.Source,
			Exact:    total,
			Required: total,
			Source:   r.Source,
			Diluent:  r.Diluent,
		}
	}
	return Chain{Steps: out}, nil
}

// Table converts a chain back into table rows, numbering from 1
func (c Chain) Table() []Row {
	out := make([]Row, len(c.Steps))
	for i, s := range c.Steps {
		out[i] = Row{Step: i + 1, Source: s.Source, Diluent: s.Diluent}
	}
	return out
}

// WriteTable writes the chain in the headerless CSV form
func (c Chain) WriteTable(w io.Writer) error {
	cw := csv.NewWriter(w)
	for _, r := range c.Table() {
		rec := []string{
			strconv.Itoa(r.Step),
			strconv.FormatFloat(r.Source, 'f', -1, 64),
			strconv.FormatFloat(r.Diluent, 'f', -1, 64),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
