// Package presets parses the operator-maintained list of quick-pick dates.
package presets

import (
	"fmt"
	"strings"

	"github.com/nainya/timemachine/pkg/target"
)

// Preset is one quick-pick entry
type Preset struct {
	Label string
	Value string
}

// Warning describes a skipped line
type Warning struct {
	Line   int
	Text   string
	Reason string
}

func (w Warning) String() string {
	if w.Line == 0 {
		return fmt.Sprintf("%s: %s", w.Text, w.Reason)
	}
	return fmt.Sprintf("line %d: %s", w.Line, w.Reason)
}

// Parse reads one "label|value" entry per line. The value follows the last
// pipe. Blank lines are ignored; lines without a pipe or with a value that
// is not a YYYY-MM-DD date are skipped with a warning. Parse never fails.
func Parse(raw string) ([]Preset, []Warning) {
	var out []Preset
	var warnings []Warning

	for i, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		pipe := strings.LastIndex(line, "|")
		if pipe < 0 {
			warnings = append(warnings, Warning{Line: i + 1, Text: line, Reason: "missing '|' separator"})
			continue
		}

		label := strings.TrimSpace(line[:pipe])
		value := strings.TrimSpace(line[pipe+1:])
		if _, ok := target.ParseDate(value); !ok {
			warnings = append(warnings, Warning{Line: i + 1, Text: line, Reason: fmt.Sprintf("%q is not a YYYY-MM-DD date", value)})
			continue
		}
		if label == "" {
			label = value
		}
		out = append(out, Preset{Label: label, Value: value})
	}
	return out, warnings
}
