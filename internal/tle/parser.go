package tle

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/star/satpass/internal/apperr"
)

// lineLen is the fixed width of a TLE data line, checksum included.
const lineLen = 69

// Parse reads NORAD TLE text from r. Both 3-line (name + two data lines) and
// bare 2-line entries are accepted, and may be mixed. Malformed entries are
// skipped with a warning log.
func Parse(r io.Reader, logger *slog.Logger) ([]ElementSet, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	var sets []ElementSet
	for i := 0; i < len(lines); {
		var name string
		if !isDataLine(lines[i], '1') {
			name = lines[i]
			i++
		}
		if i+1 >= len(lines) {
			if name != "" {
				logger.Warn("skipping truncated TLE entry", "name", name)
			}
			break
		}

		line1, line2 := lines[i], lines[i+1]
		if !isDataLine(line1, '1') || !isDataLine(line2, '2') {
			// Resync on the next line.
			logger.Warn("skipping malformed TLE entry", "line_index", i, "name", name)
			if name == "" {
				i++
			}
			continue
		}

		es, err := ParseLines(name, line1, line2)
		if err != nil {
			logger.Warn("skipping unparseable TLE entry", "name", name, "error", err)
			i += 2
			continue
		}
		if !validChecksum(line1) || !validChecksum(line2) {
			logger.Debug("TLE checksum mismatch", "norad_id", es.NORADID, "name", name)
		}
		sets = append(sets, es)
		i += 2
	}

	return sets, nil
}

// ParseOne parses text holding exactly one element set (2 or 3 lines).
func ParseOne(text string) (ElementSet, error) {
	var lines []string
	for _, l := range strings.Split(strings.ReplaceAll(text, "\r", ""), "\n") {
		if l = strings.TrimRight(l, " "); l != "" {
			lines = append(lines, l)
		}
	}

	switch len(lines) {
	case 2:
		return ParseLines("", lines[0], lines[1])
	case 3:
		return ParseLines(lines[0], lines[1], lines[2])
	default:
		return ElementSet{}, apperr.InvalidArgument("tle.parse", "expected 2 or 3 lines, got %d", len(lines))
	}
}

// ParseLines decodes a name and the two data lines into an ElementSet.
// Column positions follow the NORAD two-line element format.
func ParseLines(name, line1, line2 string) (ElementSet, error) {
	const op = "tle.parse"
	name = strings.TrimSpace(strings.TrimPrefix(name, "0 "))

	if len(line1) != lineLen {
		return ElementSet{}, apperr.InvalidArgument(op, "line 1 length %d, expected %d", len(line1), lineLen)
	}
	if len(line2) != lineLen {
		return ElementSet{}, apperr.InvalidArgument(op, "line 2 length %d, expected %d", len(line2), lineLen)
	}
	if !isDataLine(line1, '1') || !isDataLine(line2, '2') {
		return ElementSet{}, apperr.InvalidArgument(op, "data lines must start with \"1 \" and \"2 \"")
	}

	p := fieldParser{}
	es := ElementSet{
		Name:           name,
		NORADID:        p.integer("catalog number", line1[2:7]),
		Classification: strings.TrimSpace(line1[7:8]),
		IntlDesignator: strings.TrimSpace(line1[9:17]),
		MeanMotionDot:  p.float("mean motion dot", line1[33:43]),
		MeanMotionDDot: p.implied("mean motion ddot", line1[44:52]),
		BStar:          p.implied("bstar", line1[53:61]),
		ElementSetNo:   p.optionalInt(line1[64:68]),

		InclinationDeg: p.float("inclination", line2[8:16]),
		RAANDeg:        p.float("raan", line2[17:25]),
		Eccentricity:   p.float("eccentricity", "0."+strings.TrimSpace(line2[26:33])),
		ArgPerigeeDeg:  p.float("argument of perigee", line2[34:42]),
		MeanAnomalyDeg: p.float("mean anomaly", line2[43:51]),
		MeanMotion:     p.float("mean motion", line2[52:63]),
		RevNumber:      p.optionalInt(line2[63:68]),

		Line1: line1,
		Line2: line2,
	}
	id2 := p.integer("line 2 catalog number", line2[2:7])
	if p.err != nil {
		return ElementSet{}, apperr.InvalidArgument(op, "%v", p.err)
	}
	if id2 != es.NORADID {
		return ElementSet{}, apperr.InvalidArgument(op, "catalog number mismatch: line 1 %d, line 2 %d", es.NORADID, id2)
	}

	epoch, err := parseEpoch(strings.TrimSpace(line1[18:32]))
	if err != nil {
		return ElementSet{}, apperr.InvalidArgument(op, "%v", err)
	}
	es.Epoch = epoch

	return es, nil
}

func isDataLine(line string, n byte) bool {
	return len(line) >= 2 && line[0] == n && line[1] == ' '
}

// fieldParser collects the first conversion error so field extraction can be
// written as a flat struct literal.
type fieldParser struct {
	err error
}

func (p *fieldParser) float(field, s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s %q", field, s)
	}
	return v
}

func (p *fieldParser) integer(field, s string) int {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("invalid %s %q", field, s)
	}
	return v
}

// optionalInt parses counters that some producers leave blank.
func (p *fieldParser) optionalInt(s string) int {
	v, _ := strconv.Atoi(strings.TrimSpace(s))
	return v
}

// implied parses the TLE "implied decimal point" notation: " 12345-3" is
// 0.12345e-3 and "-11606-4" is -0.11606e-4.
func (p *fieldParser) implied(field, s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	sign := ""
	if s[0] == '-' || s[0] == '+' {
		if s[0] == '-' {
			sign = "-"
		}
		s = s[1:]
	}

	i := strings.LastIndexAny(s, "+-")
	if i <= 0 {
		return p.float(field, sign+"0."+s)
	}
	return p.float(field, sign+"0."+s[:i]+"e"+s[i:])
}

// parseEpoch converts a TLE epoch string in YYDDD.DDDDDDDD format to time.Time.
// Year 00-56 → 2000s, 57-99 → 1900s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", s[:2], err)
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", s[2:], err)
	}
	if dayOfYear < 1 || dayOfYear >= 367 {
		return time.Time{}, fmt.Errorf("epoch day %v out of range", dayOfYear)
	}

	// dayOfYear is 1-based: day 1.0 = Jan 1 00:00. Rounded to the microsecond,
	// which is the resolution of the 8 fractional digits.
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	t = t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour))).Round(time.Microsecond)

	return t, nil
}

// validChecksum verifies the modulo-10 checksum in column 69: digits count
// at face value, minus signs count as 1, everything else as 0.
func validChecksum(line string) bool {
	if len(line) != lineLen {
		return false
	}
	sum := 0
	for i := 0; i < lineLen-1; i++ {
		switch c := line[i]; {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return int(line[lineLen-1]-'0') == sum%10
}
