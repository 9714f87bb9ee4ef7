// Package diff turns unified-diff text into numbered display lines.
package diff

import (
	"regexp"
	"strconv"
	"strings"
)

// DefaultCollapsedLines is how many raw lines a collapsed diff shows.
const DefaultCollapsedLines = 20

// Ellipsis marks the end of a truncated diff.
const Ellipsis = "..."

// Kind classifies a diff line.
type Kind int

const (
	Context Kind = iota
	Added
	Removed
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	}
	return "context"
}

// Line is one displayable diff line. Old and New are 1-based line numbers;
// zero means the side has no number (added lines have no Old, removed lines
// no New, and nothing is numbered before the first hunk header).
type Line struct {
	Text string
	Kind Kind
	Old  int
	New  int
}

// hunkHeader matches "@@ -a,b +c,d @@" with optional counts.
var hunkHeader = regexp.MustCompile(`@@ -(\d+),?\d* \+(\d+),?\d* @@`)

// Parse classifies every line of text. File headers and hunk headers are not
// returned; hunk headers reset the counters to their start minus one.
func Parse(text string) []Line {
	if text == "" {
		return nil
	}

	var (
		out       []Line
		old, neu  int
		numbering bool
	)
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSuffix(raw, "\r")
		switch {
		case strings.HasPrefix(line, "Index:"),
			strings.HasPrefix(line, "==="),
			strings.HasPrefix(line, "+++"),
			strings.HasPrefix(line, "---"):
			continue

		case strings.HasPrefix(line, "@@"):
			if m := hunkHeader.FindStringSubmatch(line); m != nil {
				a, errA := strconv.Atoi(m[1])
				b, errB := strconv.Atoi(m[2])
				if errA == nil && errB == nil {
					old, neu = a-1, b-1
					numbering = true
				}
			}
			continue

		case strings.HasPrefix(line, "+"):
			l := Line{Text: line[1:], Kind: Added}
			if numbering {
				neu++
				l.New = neu
			}
			out = append(out, l)

		case strings.HasPrefix(line, "-"):
			l := Line{Text: line[1:], Kind: Removed}
			if numbering {
				old++
				l.Old = old
			}
			out = append(out, l)

		case strings.HasPrefix(line, " "):
			l := Line{Text: line[1:], Kind: Context}
			if numbering {
				old++
				neu++
				l.Old, l.New = old, neu
			}
			out = append(out, l)
		}
	}
	return out
}

// Stats counts added and removed lines.
func Stats(lines []Line) (added, removed int) {
	for _, l := range lines {
		switch l.Kind {
		case Added:
			added++
		case Removed:
			removed++
		case Context:
		}
	}
	return added, removed
}

// Collapse keeps the first n raw lines of text and appends Ellipsis when
// anything was cut. n <= 0 selects DefaultCollapsedLines.
func Collapse(text string, n int) (string, bool) {
	if n <= 0 {
		n = DefaultCollapsedLines
	}
	lines := strings.Split(text, "\n")
	if len(lines) <= n {
		return text, false
	}
	return strings.Join(lines[:n], "\n") + "\n" + Ellipsis, true
}

// NumberWidth is the column width needed to print the largest line number
// in lines, at least one.
func NumberWidth(lines []Line) int {
	widest := 0
	for _, l := range lines {
		widest = max(widest, l.Old, l.New)
	}
	return len(strconv.Itoa(widest))
}
