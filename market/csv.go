package market

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/volrisk/riskerr"
)

// CSVOptions describes the layout of a return CSV.
//
//	date,return
//	2020-01-02,0.0041
//
// The first row must be a header naming DateColumn and ReturnColumn.
// Column names match case-insensitively.
type CSVOptions struct {
	Name         string
	DateColumn   string
	ReturnColumn string
	DateLayout   string
}

// LoadCSV reads a return series from path.
func LoadCSV(path string, opts CSVOptions) (Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return Series{}, fmt.Errorf("open returns: %w", err)
	}
	defer f.Close()

	return ReadCSV(f, opts)
}

// ReadCSV reads a return series. Any malformed row fails the whole read
// with a Validation error naming the line.
func ReadCSV(r io.Reader, opts CSVOptions) (Series, error) {
	const op = "market.ReadCSV"

	if opts.DateLayout == "" {
		return Series{}, riskerr.New(riskerr.KindValidation, op, "date layout is required")
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return Series{}, riskerr.New(riskerr.KindValidation, op, "empty input")
	}
	if err != nil {
		return Series{}, riskerr.Wrap(riskerr.KindValidation, op, err)
	}

	dateIdx, retIdx := -1, -1
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		switch {
		case strings.EqualFold(h, opts.DateColumn):
			dateIdx = i
		case strings.EqualFold(h, opts.ReturnColumn):
			retIdx = i
		}
	}
	if dateIdx < 0 || retIdx < 0 {
		return Series{}, riskerr.New(riskerr.KindValidation, op,
			"header %v must contain %q and %q", header, opts.DateColumn, opts.ReturnColumn)
	}

	var obs []Observation
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return Series{}, riskerr.Wrap(riskerr.KindValidation, op, err)
		}
		if len(row) == 1 && strings.TrimSpace(row[0]) == "" {
			continue
		}
		if len(row) <= dateIdx || len(row) <= retIdx {
			return Series{}, riskerr.New(riskerr.KindValidation, op, "line %d: short row %v", line, row)
		}

		d, err := time.Parse(opts.DateLayout, strings.TrimSpace(row[dateIdx]))
		if err != nil {
			return Series{}, riskerr.New(riskerr.KindValidation, op, "line %d: bad date %q: %v", line, row[dateIdx], err)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(row[retIdx]), 64)
		if err != nil {
			return Series{}, riskerr.New(riskerr.KindValidation, op, "line %d: bad return %q: %v", line, row[retIdx], err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Series{}, riskerr.New(riskerr.KindValidation, op, "line %d: non-finite return %q", line, row[retIdx])
		}
		if n := len(obs); n > 0 && !d.After(obs[n-1].Date) {
			return Series{}, riskerr.New(riskerr.KindValidation, op,
				"line %d: date %s is duplicate or out of order", line, row[dateIdx])
		}
		obs = append(obs, Observation{Date: d, Return: v})
	}

	return NewSeries(opts.Name, obs)
}

// WriteCSV writes s as a two-column date,return CSV.
func WriteCSV(w io.Writer, s Series, layout string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"date", "return"}); err != nil {
		return err
	}
	for _, o := range s.obs {
		if err := cw.Write([]string{
			o.Date.Format(layout),
			strconv.FormatFloat(o.Return, 'g', -1, 64),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
