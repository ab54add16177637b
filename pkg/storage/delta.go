// Package storage classifies the effect of a clear action on the sizes shown
// by a settings screen.
package storage

// ParsedSize is one size label read from the screen.
// Bytes is nil when Text could not be parsed as a size.
type ParsedSize struct {
	Bytes *int64 `yaml:"bytes"`
	Text  string `yaml:"text"`
}

// Snapshot is an ordered capture of all size labels visible at one instant.
// Two snapshots are only comparable when taken from the same layout.
type Snapshot struct {
	Values []ParsedSize `yaml:"values"`
}

// DeltaResult is the outcome of comparing two snapshots.
type DeltaResult int

const (
	Inconclusive DeltaResult = iota // Layout mismatch or nothing parseable
	Success                         // At least one value decreased
	SkipSuccess                     // A value was already zero, nothing to clear
	NoChange
)

// String returns the string representation of DeltaResult
func (r DeltaResult) String() string {
	switch r {
	case Success:
		return "success"
	case SkipSuccess:
		return "skip-success"
	case NoChange:
		return "no-change"
	default:
		return "inconclusive"
	}
}

// MarshalYAML encodes the result by name.
func (r DeltaResult) MarshalYAML() (interface{}, error) {
	return r.String(), nil
}

// Cleared reports whether the result counts as a successful clear.
func (r DeltaResult) Cleared() bool {
	return r == Success || r == SkipSuccess
}

// Compare classifies the change between a snapshot taken before a clear
// action and one taken after it. The first matching rule wins.
func Compare(pre, post Snapshot) DeltaResult {
	if len(pre.Values) == 0 || len(post.Values) == 0 {
		return Inconclusive
	}
	if len(pre.Values) != len(post.Values) {
		return Inconclusive
	}

	pairs := 0
	decreased := false
	for i, before := range pre.Values {
		after := post.Values[i]
		if before.Bytes == nil || after.Bytes == nil {
			continue
		}
		pairs++
		if *after.Bytes < *before.Bytes {
			decreased = true
		}
	}
	if pairs == 0 {
		return Inconclusive
	}
	if decreased {
		return Success
	}

	// Zero check covers every pre entry, not only the paired ones.
	for _, v := range pre.Values {
		if v.Bytes != nil && *v.Bytes == 0 {
			return SkipSuccess
		}
	}
	return NoChange
}
