package storage

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/devicelab-dev/settings-runner/pkg/core"
)

// DefaultLabelResourceID is the resource id of size labels on the AOSP
// app storage screen.
const DefaultLabelResourceID = "android:id/summary"

// NewSnapshot builds a snapshot from label texts in screen order.
func NewSnapshot(texts ...string) Snapshot {
	values := make([]ParsedSize, 0, len(texts))
	for _, t := range texts {
		values = append(values, NewParsedSize(t))
	}
	return Snapshot{Values: values}
}

// Capture collects every node matching match, in document order.
func Capture(root *core.Node, match func(*core.Node) bool) Snapshot {
	var texts []string
	root.Walk(func(n *core.Node) bool {
		if match(n) {
			texts = append(texts, n.Text)
		}
		return true
	})
	return NewSnapshot(texts...)
}

// ByResourceID matches nodes with the given resource id.
func ByResourceID(id string) func(*core.Node) bool {
	return func(n *core.Node) bool {
		return n.ResourceID == id
	}
}

// Parsed returns how many entries carry a byte count.
func (s Snapshot) Parsed() int {
	n := 0
	for _, v := range s.Values {
		if v.Bytes != nil {
			n++
		}
	}
	return n
}

// ReadSnapshotFile loads a snapshot written by WriteSnapshotFile.
func ReadSnapshotFile(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	var s Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse snapshot %s: %w", path, err)
	}
	return s, nil
}

// WriteSnapshotFile stores s as YAML.
func WriteSnapshotFile(path string, s Snapshot) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}
