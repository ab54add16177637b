package storage

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var sizePattern = regexp.MustCompile(`^([0-9]+(?:[.,][0-9]+)?)\s*([A-Za-z]+)$`)

var unitMultipliers = map[string]float64{
	"b":     1,
	"byte":  1,
	"bytes": 1,
	"k":     1e3,
	"kb":    1e3,
	"mb":    1e6,
	"gb":    1e9,
	"tb":    1e12,
	"kib":   1 << 10,
	"mib":   1 << 20,
	"gib":   1 << 30,
	"tib":   1 << 40,
}

// spaceReplacer folds the spacing characters Android's formatter emits.
var spaceReplacer = strings.NewReplacer(
	"\u00a0", " ",
	"\u202f", " ",
	"\u2009", " ",
)

// ParseSize parses a formatted file size such as "57.34 kB" or "1,2 GB".
// Decimal units are powers of 1000, binary units (KiB...) powers of 1024.
func ParseSize(text string) (int64, bool) {
	s := strings.TrimSpace(spaceReplacer.Replace(text))
	m := sizePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	mult, ok := unitMultipliers[strings.ToLower(m[2])]
	if !ok {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil {
		return 0, false
	}
	bytes := math.Round(value * mult)
	if bytes >= math.MaxInt64 {
		return 0, false
	}
	return int64(bytes), true
}

// NewParsedSize parses text into a ParsedSize, keeping the text for diagnostics.
func NewParsedSize(text string) ParsedSize {
	ps := ParsedSize{Text: text}
	if n, ok := ParseSize(text); ok {
		ps.Bytes = &n
	}
	return ps
}
