package curve

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/edp1096/pvparam/internal/consts"
	"github.com/edp1096/pvparam/pkg/errs"
)

// Options select the columns of a delimited table. Empty names fall back to
// the usual instrument export headers.
type Options struct {
	VoltageColumn     string
	CurrentColumn     string
	TemperatureColumn string // Optional. Splits the table into one sample per temperature
	Celsius           bool   // Temperature column is in degrees Celsius
	Delimiter         rune   // 0 detects comma, semicolon, tab or whitespace from the header
}

var (
	voltageNames     = []string{"VOLT1", "Voltage", "V", "U"}
	currentNames     = []string{"CURR1", "Current", "I"}
	temperatureNames = []string{"Temp", "Temperature", "T"}
)

var unitMap = map[string]float64{
	"T":   1e12,  // tera
	"G":   1e9,   // giga
	"meg": 1e6,   // mega
	"K":   1e3,   // kilo
	"k":   1e3,   // kilo
	"m":   1e-3,  // milli
	"u":   1e-6,  // micro
	"n":   1e-9,  // nano
	"p":   1e-12, // pico
	"f":   1e-15, // femto
}

var valueRe = regexp.MustCompile(`^([-+]?(?:\d+\.?\d*|\.\d+)(?:[eE][-+]?\d+)?)(meg|[TGKkmunpf])?$`)

// ParseValue reads a number with an optional SI suffix, e.g. "12.5m" or "1e-9".
func ParseValue(val string) (float64, error) {
	matches := valueRe.FindStringSubmatch(strings.TrimSpace(val))
	if matches == nil {
		return 0, fmt.Errorf("invalid value format: %q", val)
	}

	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, err
	}

	if matches[2] != "" {
		num *= unitMap[matches[2]]
	}
	return num, nil
}

type table struct {
	header []string
	rows   [][]float64
}

// ReadCurve reads a single sweep. A temperature column, if named, is ignored.
func ReadCurve(r io.Reader, opts Options) (Curve, error) {
	t, err := readTable(r, opts.Delimiter)
	if err != nil {
		return Curve{}, err
	}

	vi, ii, err := t.ivColumns(opts)
	if err != nil {
		return Curve{}, err
	}

	v := make([]float64, len(t.rows))
	i := make([]float64, len(t.rows))
	for k, row := range t.rows {
		v[k] = row[vi]
		i[k] = row[ii]
	}
	return New(v, i)
}

// ReadSamples reads a table holding sweeps at several temperatures and groups
// the rows by the temperature column. Samples come back sorted by temperature.
func ReadSamples(r io.Reader, opts Options) ([]TemperatureSample, error) {
	t, err := readTable(r, opts.Delimiter)
	if err != nil {
		return nil, err
	}

	vi, ii, err := t.ivColumns(opts)
	if err != nil {
		return nil, err
	}
	ti, err := t.column(opts.TemperatureColumn, temperatureNames)
	if err != nil {
		return nil, err
	}

	groups := make(map[float64][]Point)
	for _, row := range t.rows {
		kelvin := row[ti]
		if opts.Celsius {
			kelvin += consts.KELVIN
		}
		groups[kelvin] = append(groups[kelvin], Point{V: row[vi], I: row[ii]})
	}

	temps := make([]float64, 0, len(groups))
	for k := range groups {
		temps = append(temps, k)
	}
	sort.Float64s(temps)

	samples := make([]TemperatureSample, 0, len(temps))
	for _, kelvin := range temps {
		c, err := FromPoints(groups[kelvin])
		if err != nil {
			return nil, fmt.Errorf("sample at %g K: %w", kelvin, err)
		}
		s, err := NewTemperatureSample(kelvin, c)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func readTable(r io.Reader, delim rune) (*table, error) {
	scanner := bufio.NewScanner(r)
	t := &table{}

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "*") { // Empty or comment
			continue
		}

		if t.header == nil {
			if delim == 0 {
				delim = detectDelimiter(line)
			}
			t.header = splitFields(line, delim)
			continue
		}

		fields := splitFields(line, delim)
		if len(fields) != len(t.header) {
			return nil, fmt.Errorf("%w: line %d has %d fields, header has %d", errs.ErrInvalidInput, lineNo, len(fields), len(t.header))
		}

		row := make([]float64, len(fields))
		for k, f := range fields {
			val, err := ParseValue(f)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d column %q: %v", errs.ErrInvalidInput, lineNo, t.header[k], err)
			}
			row[k] = val
		}
		t.rows = append(t.rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading table: %v", err)
	}

	if t.header == nil {
		return nil, fmt.Errorf("%w: table is empty", errs.ErrInvalidInput)
	}
	return t, nil
}

func (t *table) ivColumns(opts Options) (int, int, error) {
	vi, err := t.column(opts.VoltageColumn, voltageNames)
	if err != nil {
		return 0, 0, err
	}
	ii, err := t.column(opts.CurrentColumn, currentNames)
	if err != nil {
		return 0, 0, err
	}
	return vi, ii, nil
}

// column finds name, or the first of the fallbacks when name is empty.
// Header matching ignores case.
func (t *table) column(name string, fallbacks []string) (int, error) {
	candidates := fallbacks
	if name != "" {
		candidates = []string{name}
	}

	for _, c := range candidates {
		for k, h := range t.header {
			if strings.EqualFold(h, c) {
				return k, nil
			}
		}
	}
	return 0, fmt.Errorf("%w: no column named %s in header %v", errs.ErrInvalidInput, strings.Join(candidates, " or "), t.header)
}

func detectDelimiter(line string) rune {
	for _, d := range []rune{',', ';', '\t'} {
		if strings.ContainsRune(line, d) {
			return d
		}
	}
	return ' '
}

func splitFields(line string, delim rune) []string {
	if delim == ' ' {
		return strings.Fields(line)
	}

	fields := strings.Split(line, string(delim))
	for k := range fields {
		fields[k] = strings.Trim(strings.TrimSpace(fields[k]), `"`)
	}
	return fields
}
