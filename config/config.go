// Package config loads the liquidplan configuration.
//
// Values come from, in increasing precedence, the defaults in Default, the
// YAML file, and LIQUIDPLAN_ environment variables, e.g.
// LIQUIDPLAN_ROBOT_ADDR=10.0.0.5:7000.  A missing file is not an error.
// The result is one immutable Config, built once and passed down.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	yml "gopkg.in/yaml.v2"

	"github.com/op13/liquidplan/dilution"
	"github.com/op13/liquidplan/fault"
	"github.com/op13/liquidplan/pipette"
	"github.com/op13/liquidplan/protocol"
)

// FileName is the default configuration file
const FileName = "liquidplan.yml"

// EnvPrefix prefixes environment overrides
const EnvPrefix = "LIQUIDPLAN_"

// Robot is the link to the liquid handling service
type Robot struct {
	// Addr is host:port for TCP, or a device such as /dev/ttyUSB0
	Addr   string `yaml:"Addr" koanf:"Addr"`
	Serial bool   `yaml:"Serial" koanf:"Serial"`
	Baud   int    `yaml:"Baud" koanf:"Baud"`

	// Timeout bounds each command round trip
	Timeout time.Duration `yaml:"Timeout" koanf:"Timeout"`

	// MinInterval spaces out consecutive commands
	MinInterval time.Duration `yaml:"MinInterval" koanf:"MinInterval"`
}

// Pipettes names the two mounted instruments, e.g. "p20" and "p300"
type Pipettes struct {
	Left  string `yaml:"Left" koanf:"Left"`
	Right string `yaml:"Right" koanf:"Right"`
}

// StandardCurve overrides the standard curve defaults
type StandardCurve struct {
	VolumePerWell float64   `yaml:"VolumePerWell" koanf:"VolumePerWell"`
	Excess        float64   `yaml:"Excess" koanf:"Excess"`
	Doses         []float64 `yaml:"Doses" koanf:"Doses"`
	Plates        int       `yaml:"Plates" koanf:"Plates"`

	// Negative is "manual", "kit" or "diluent"
	Negative string `yaml:"Negative" koanf:"Negative"`
}

// Series configures the custom dilution series
type Series struct {
	// Table is a CSV file of step,source,diluent; empty uses the built in table
	Table  string `yaml:"Table" koanf:"Table"`
	Header bool   `yaml:"Header" koanf:"Header"`
}

// ReportableRange configures the reportable range aliquots
type ReportableRange struct {
	AliquotVolume float64 `yaml:"AliquotVolume" koanf:"AliquotVolume"`
	Negatives     bool    `yaml:"Negatives" koanf:"Negatives"`
}

// Mastermix configures mastermix plating
type Mastermix struct {
	Plates int     `yaml:"Plates" koanf:"Plates"`
	Volume float64 `yaml:"Volume" koanf:"Volume"`
}

// Config is the full configuration
type Config struct {
	// Addr is the HTTP listen address of serve
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Mock replaces the robot with an in-memory liquid handler
	Mock bool `yaml:"Mock" koanf:"Mock"`

	Robot         Robot               `yaml:"Robot" koanf:"Robot"`
	Pipettes      Pipettes            `yaml:"Pipettes" koanf:"Pipettes"`
	Dilution      dilution.Params     `yaml:"Dilution" koanf:"Dilution"`
	Mix           pipette.MixSettings `yaml:"Mix" koanf:"Mix"`
	StandardCurve StandardCurve       `yaml:"StandardCurve" koanf:"StandardCurve"`
	Series        Series              `yaml:"Series" koanf:"Series"`

	ReportableRange ReportableRange `yaml:"ReportableRange" koanf:"ReportableRange"`
	Mastermix       Mastermix       `yaml:"Mastermix" koanf:"Mastermix"`

	// PrimerVolume is the volume of each primer and probe per well
	PrimerVolume float64 `yaml:"PrimerVolume" koanf:"PrimerVolume"`

	// History is the SQLite run log; empty keeps no log
	History string `yaml:"History" koanf:"History"`
}

// Default is the configuration with nothing loaded
func Default() Config {
	sc := protocol.DefaultStandardCurve()
	rr := protocol.DefaultReportableRange()
	mm := protocol.DefaultMastermixPlating()
	return Config{
		Addr: ":8000",
		Mock: false,
		Robot: Robot{
			Addr:        "localhost:7000",
			Baud:        9600,
			Timeout:     5 * time.Minute,
			MinInterval: 50 * time.Millisecond,
		},
		Pipettes:     Pipettes{Left: "p20", Right: "p300"},
		Dilution:     dilution.DefaultParams,
		Mix:          pipette.DefaultMix,
		PrimerVolume: protocol.DefaultPrimerScreen().Volume,
		StandardCurve: StandardCurve{
			VolumePerWell: sc.VolumePerWell,
			Excess:        sc.Excess,
			Doses:         sc.Doses,
			Plates:        sc.Plates,
			Negative:      sc.Negative.String(),
		},
		ReportableRange: ReportableRange{AliquotVolume: rr.AliquotVolume, Negatives: rr.Negatives},
		Mastermix:       Mastermix{Plates: mm.Plates, Volume: mm.Volume},
	}
}

// Load reads the configuration.  path may be empty for FileName.
func Load(path string) (Config, error) {
	if path == "" {
		path = FileName
	}
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, err
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !errors.Is(err, os.ErrNotExist) && !strings.Contains(err.Error(), "no such") {
			return Config{}, fmt.Errorf("loading %s: %w", path, err)
		}
	}

	// env keys are upper case; map them onto the keys the defaults define
	keys := map[string]string{}
	for _, key := range k.Keys() {
		keys[strings.ToLower(key)] = key
	}
	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		s = strings.Replace(s, "_", ".", -1)
		if key, ok := keys[s]; ok {
			return key
		}
		return s
	}), nil)
	if err != nil {
		return Config{}, err
	}

	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		return Config{}, err
	}
	return c, c.Validate()
}

// Write encodes c as YAML, the format Load reads
func (c Config) Write(w io.Writer) error {
	enc := yml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(c)
}

// Pair resolves the configured pipettes
func (c Config) Pair() (pipette.Pair, error) {
	left, err := pipette.Lookup(c.Pipettes.Left)
	if err != nil {
		return pipette.Pair{}, fault.Config("Pipettes.Left", c.Pipettes.Left, err)
	}
	right, err := pipette.Lookup(c.Pipettes.Right)
	if err != nil {
		return pipette.Pair{}, fault.Config("Pipettes.Right", c.Pipettes.Right, err)
	}
	return pipette.Pair{Left: left, Right: right}, nil
}

// Validate checks the configuration before anything uses it.  Every
// problem is reported.
func (c Config) Validate() error {
	errs := make([]error, 0)
	if c.Addr == "" {
		errs = append(errs, fault.Config("Addr", c.Addr, errors.New("must not be empty")))
	}
	if !c.Mock && c.Robot.Addr == "" {
		errs = append(errs, fault.Config("Robot.Addr", c.Robot.Addr, errors.New("required unless Mock is set")))
	}
	if c.Robot.Serial && c.Robot.Baud <= 0 {
		errs = append(errs, fault.Config("Robot.Baud", c.Robot.Baud, errors.New("must be positive")))
	}
	if c.Robot.Timeout < 0 || c.Robot.MinInterval < 0 {
		errs = append(errs, fault.Config("Robot", c.Robot.Timeout, errors.New("durations must not be negative")))
	}
	if _, err := c.Pair(); err != nil {
		errs = append(errs, err)
	}
	if c.Dilution.Plates < 1 {
		errs = append(errs, fault.Config("Dilution.Plates", c.Dilution.Plates, dilution.ErrPlates))
	}
	if c.Mix.Cycles < 1 || c.Mix.Fraction <= 0 || c.Mix.Fraction > 1 {
		errs = append(errs, fault.Config("Mix", c.Mix, errors.New("need at least one cycle and a fraction in (0, 1]")))
	}
	var neg protocol.Negative
	if err := neg.UnmarshalText([]byte(c.StandardCurve.Negative)); err != nil {
		errs = append(errs, fault.Config("StandardCurve.Negative", c.StandardCurve.Negative, err))
	}
	if c.ReportableRange.AliquotVolume <= 0 {
		errs = append(errs, fault.Config("ReportableRange.AliquotVolume", c.ReportableRange.AliquotVolume, dilution.ErrVolume))
	}
	if c.Mastermix.Plates < 1 || c.Mastermix.Plates > protocol.MaxMastermixPlates {
		errs = append(errs, fault.Config("Mastermix.Plates", c.Mastermix.Plates,
			fmt.Errorf("%w: 1 to %d plates", protocol.ErrDeckSlots, protocol.MaxMastermixPlates)))
	}
	if c.Mastermix.Volume <= 0 {
		errs = append(errs, fault.Config("Mastermix.Volume", c.Mastermix.Volume, dilution.ErrVolume))
	}
	if c.PrimerVolume <= 0 {
		errs = append(errs, fault.Config("PrimerVolume", c.PrimerVolume, dilution.ErrVolume))
	}
	return errors.Join(errs...)
}

// Catalog builds the protocol catalog with the configured parameters
func (c Config) Catalog() (protocol.Catalog, error) {
	pair, err := c.Pair()
	if err != nil {
		return nil, err
	}

	sc := protocol.DefaultStandardCurve()
	sc.VolumePerWell = c.StandardCurve.VolumePerWell
	sc.Excess = c.StandardCurve.Excess
	sc.Doses = c.StandardCurve.Doses
	sc.Plates = c.StandardCurve.Plates
	if err := sc.Negative.UnmarshalText([]byte(c.StandardCurve.Negative)); err != nil {
		return nil, fault.Config("StandardCurve.Negative", c.StandardCurve.Negative, err)
	}
	sc.Pair = pair
	sc.Mix = c.Mix
	sc.Params = c.Dilution

	series := protocol.DefaultSeries()
	if c.Series.Table != "" {
		f, err := os.Open(c.Series.Table)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		series, err = protocol.NewSeries(f, c.Series.Header, series.Pair)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Series.Table, err)
		}
	}
	series.Mix = c.Mix

	rr := protocol.DefaultReportableRange()
	rr.AliquotVolume = c.ReportableRange.AliquotVolume
	rr.Negatives = c.ReportableRange.Negatives
	rr.Mix = c.Mix
	rr.Params = c.Dilution

	mm := protocol.DefaultMastermixPlating()
	mm.Plates = c.Mastermix.Plates
	mm.Volume = c.Mastermix.Volume
	mm.Pair = pair

	ps := protocol.DefaultPrimerScreen()
	ps.Volume = c.PrimerVolume

	return protocol.Catalog{
		"standard-curve":   sc,
		"series":           series,
		"reportable-range": rr,
		"mastermix":        mm,
		"primer-screen":    ps,
	}, nil
}
