package host

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/devicelab-dev/settings-runner/pkg/core"
)

// ParsePageSource parses an Android UI hierarchy dump into a node tree.
// Supports both formats:
// - UIAutomator dump: uses class name as element tag (e.g., <android.widget.FrameLayout>)
// - Appium format: uses <node> elements
//
// It returns nil when the hierarchy has no nodes. Several top-level windows
// are wrapped in a synthetic root owned by the first window's package.
func ParsePageSource(xmlData string) (*core.Node, error) {
	decoder := xml.NewDecoder(strings.NewReader(xmlData))

	foundHierarchy := false
	var parseElement func() (*core.Node, error)

	parseElement = func() (*core.Node, error) {
		for {
			token, err := decoder.Token()
			if err != nil {
				return nil, err
			}

			switch t := token.(type) {
			case xml.StartElement:
				// Skip the hierarchy element
				if t.Name.Local == "hierarchy" {
					foundHierarchy = true
					continue
				}

				node := &core.Node{
					ClassName: t.Name.Local, // Class name is the element tag
				}
				for _, attr := range t.Attr {
					switch attr.Name.Local {
					case "text":
						node.Text = attr.Value
					case "resource-id":
						node.ResourceID = attr.Value
					case "content-desc":
						node.ContentDesc = attr.Value
					case "class":
						node.ClassName = attr.Value // Override if class attr exists
					case "package":
						node.PackageName = attr.Value
					case "bounds":
						node.Bounds = parseBounds(attr.Value)
					case "enabled":
						node.Enabled = attr.Value == "true"
					case "clickable":
						node.Clickable = attr.Value == "true"
					case "scrollable":
						node.Scrollable = attr.Value == "true"
					}
				}

				for {
					child, err := parseElement()
					if err != nil {
						return nil, err
					}
					if child == nil {
						break
					}
					node.Children = append(node.Children, child)
				}
				return node, nil

			case xml.EndElement:
				return nil, nil // End of current element
			}
		}
	}

	var windows []*core.Node
	for {
		node, err := parseElement()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("invalid page source: %w", err)
			}
			break
		}
		if node != nil {
			windows = append(windows, node)
		}
	}

	if !foundHierarchy {
		return nil, fmt.Errorf("invalid page source: no hierarchy element found")
	}

	switch len(windows) {
	case 0:
		return nil, nil
	case 1:
		return windows[0], nil
	default:
		return &core.Node{
			ClassName:   "hierarchy",
			PackageName: windows[0].PackageName,
			Children:    windows,
		}, nil
	}
}

// parseBounds parses Android bounds string "[x1,y1][x2,y2]" to Bounds.
func parseBounds(s string) core.Bounds {
	s = strings.ReplaceAll(s, "][", ",")
	s = strings.Trim(s, "[]")
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return core.Bounds{}
	}

	x1, _ := strconv.Atoi(parts[0])
	y1, _ := strconv.Atoi(parts[1])
	x2, _ := strconv.Atoi(parts[2])
	y2, _ := strconv.Atoi(parts[3])

	return core.Bounds{
		X:      x1,
		Y:      y1,
		Width:  x2 - x1,
		Height: y2 - y1,
	}
}
