package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// FormatError reports a file whose contents do not follow the IAGA-2002
// layout well enough to recover a component triplet. It is always
// contained to the offending file: callers skip the file and keep
// processing the rest of the batch.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "iaga2002: " + e.Reason
}

// IAGA-2002 marks gaps with all-nines sentinel readings. Both spellings
// occur in the wild depending on the reporting institute.
var sentinelValues = [...]float64{99999.0, 99999.9}

// Observatories are inconsistent about sub-second precision in the TIME
// column, so several layouts are attempted per row.
var timestampLayouts = [...]string{
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// orientation pairs a reported-components code with its column triplet.
// The first two components of each triplet are the horizontal ones used
// for disturbance computation.
type orientation struct {
	code    string
	triplet [3]Component
}

var orientations = [...]orientation{
	{code: "XYZ", triplet: [3]Component{ComponentX, ComponentY, ComponentZ}},
	{code: "HDZ", triplet: [3]Component{ComponentH, ComponentD, ComponentZ}},
}

// ParseIAGA2002 parses the raw contents of one IAGA-2002 minute file
// recorded by the given observatory. It locates the column header,
// resolves which component triplet the file reports, and decodes every
// data row below the header. Rows whose timestamp cannot be parsed are
// dropped silently; unreadable or sentinel-valued readings become
// missing values on an otherwise retained sample.
func ParseIAGA2002(content []byte, station string) (*ParsedFile, error) {
	lines := strings.Split(string(content), "\n")

	headerIdx := -1
	var fields []string
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if strings.HasPrefix(line, "DATE") && strings.Contains(line, "TIME") && strings.Contains(line, "DOY") {
			headerIdx = i
			fields = headerFields(line)
			break
		}
	}
	if headerIdx < 0 {
		return nil, &FormatError{Reason: "header not found"}
	}

	prefix := strings.ToUpper(station)
	meta := lines[:headerIdx]

	ori, err := resolveOrientation(fields, prefix, meta)
	if err != nil {
		return nil, err
	}

	dateIdx := fieldIndex(fields, "DATE")
	timeIdx := fieldIndex(fields, "TIME")
	if dateIdx < 0 || timeIdx < 0 {
		return nil, &FormatError{Reason: "header not found"}
	}

	// Columns may carry either generic labels or station-prefixed ones
	// (ENTX, ENTY, ...); both map onto the generic triplet.
	var colIdx [3]int
	for i, comp := range ori.triplet {
		idx := fieldIndex(fields, string(comp))
		if idx < 0 {
			idx = fieldIndex(fields, prefix+string(comp))
		}
		if idx < 0 {
			return nil, &FormatError{Reason: fmt.Sprintf("component %s column missing", comp)}
		}
		colIdx[i] = idx
	}

	samples := make([]Sample, 0, len(lines)-headerIdx)
	for _, raw := range lines[headerIdx+1:] {
		row := strings.Fields(raw)
		if len(row) == 0 || len(row) <= timeIdx {
			continue
		}
		ts, ok := parseTimestamp(row[dateIdx], row[timeIdx])
		if !ok {
			continue
		}
		values := make(map[Component]float64, 3)
		for i, comp := range ori.triplet {
			idx := colIdx[i]
			if idx >= len(row) {
				continue
			}
			v, err := strconv.ParseFloat(row[idx], 64)
			if err != nil || isSentinel(v) {
				continue
			}
			values[comp] = v
		}
		samples = append(samples, Sample{Time: ts, Values: values})
	}

	return &ParsedFile{
		Station:    prefix,
		Name:       stationName(meta, prefix),
		Reported:   ori.code,
		Components: [2]Component{ori.triplet[0], ori.triplet[1]},
		Samples:    samples,
	}, nil
}

// resolveOrientation decides which component triplet the file carries.
// Generic column labels win, then station-prefixed labels, then the
// "Reported" declaration from the metadata block above the header.
func resolveOrientation(fields []string, prefix string, meta []string) (orientation, error) {
	for _, ori := range orientations {
		if hasTriplet(fields, ori.triplet, "") {
			return ori, nil
		}
	}
	for _, ori := range orientations {
		if hasTriplet(fields, ori.triplet, prefix) {
			return ori, nil
		}
	}
	for _, raw := range meta {
		line := strings.TrimSpace(raw)
		if !strings.HasPrefix(line, "Reported") {
			continue
		}
		code := reportedCode(line)
		for _, ori := range orientations {
			if code == ori.code || code == ori.code+"F" {
				return ori, nil
			}
		}
	}
	return orientation{}, &FormatError{Reason: "no valid components"}
}

func hasTriplet(fields []string, triplet [3]Component, prefix string) bool {
	for _, comp := range triplet {
		if fieldIndex(fields, prefix+string(comp)) < 0 {
			return false
		}
	}
	return true
}

// reportedCode reduces a "Reported" metadata line to its bare letter
// code, e.g. "Reported  XYZF  |" yields XYZF. The trailing pipe may or
// may not be glued to the code, so tokens are scanned from the end.
func reportedCode(line string) string {
	parts := strings.Fields(line)
	for i := len(parts) - 1; i > 0; i-- {
		var b strings.Builder
		for _, r := range parts[i] {
			if unicode.IsLetter(r) {
				b.WriteRune(r)
			}
		}
		if b.Len() > 0 {
			return strings.ToUpper(b.String())
		}
	}
	return ""
}

// stationName extracts the observatory's human-readable name from the
// metadata block, falling back to the station code.
func stationName(meta []string, fallback string) string {
	for _, raw := range meta {
		line := strings.TrimSpace(raw)
		rest, ok := strings.CutPrefix(line, "Station Name")
		if !ok {
			continue
		}
		if _, after, found := strings.Cut(rest, ":"); found {
			rest = after
		}
		rest, _, _ = strings.Cut(rest, "|")
		if name := strings.TrimSpace(rest); name != "" {
			return name
		}
	}
	return fallback
}

// headerFields tokenizes the column header, dropping the trailing
// pipe decoration IAGA-2002 puts at the end of every header line.
func headerFields(line string) []string {
	raw := strings.Fields(line)
	fields := make([]string, 0, len(raw))
	for _, f := range raw {
		f = strings.ReplaceAll(f, "|", "")
		if f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

func fieldIndex(fields []string, name string) int {
	for i, f := range fields {
		if f == name {
			return i
		}
	}
	return -1
}

func parseTimestamp(dateTok, timeTok string) (time.Time, bool) {
	joined := dateTok + " " + timeTok
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, joined); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func isSentinel(v float64) bool {
	for _, s := range sentinelValues {
		if v == s {
			return true
		}
	}
	return false
}
