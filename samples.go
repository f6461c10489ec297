package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fancool/perfcurve/internal/curve"
)

var errNoColumns = errors.New("csv header must name rpm, airflow and noise columns")

// loadSamples reads a sample file. "-" reads stdin. Files ending in .csv are
// parsed as CSV, everything else as JSON.
func loadSamples(path string) (curve.Samples, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return curve.Samples{}, fmt.Errorf("unable to read samples: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return parseCSVSamples(bytes.NewReader(data))
	}
	return parseJSONSamples(data)
}

// parseJSONSamples decodes {"rpm":[…],"airflow":[…],"noise":[…]}; null marks
// a missing reading.
func parseJSONSamples(data []byte) (curve.Samples, error) {
	var s curve.Samples
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("unable to decode samples: %w", err)
	}
	return s, nil
}

// parseCSVSamples reads a CSV file whose header names the rpm, airflow and
// noise columns in any order. An empty or unparsable cell is a missing
// reading.
func parseCSVSamples(r io.Reader) (curve.Samples, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	head, err := cr.Read()
	if err != nil {
		return curve.Samples{}, fmt.Errorf("unable to read csv header: %w", err)
	}
	cols := map[string]int{"rpm": -1, "airflow": -1, "noise": -1}
	for i, name := range head {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, ok := cols[name]; ok {
			cols[name] = i
		}
	}
	for _, i := range cols {
		if i < 0 {
			return curve.Samples{}, errNoColumns
		}
	}

	var s curve.Samples
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s, fmt.Errorf("unable to read csv: %w", err)
		}
		s.RPM = append(s.RPM, cell(rec, cols["rpm"]))
		s.Airflow = append(s.Airflow, cell(rec, cols["airflow"]))
		s.Noise = append(s.Noise, cell(rec, cols["noise"]))
	}
	return s, nil
}

func cell(rec []string, i int) float64 {
	if i >= len(rec) {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// parseID parses a model or condition id argument.
func parseID(name, arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s id %q", name, arg)
	}
	return id, nil
}
