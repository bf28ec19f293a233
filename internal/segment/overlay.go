package segment

import (
	"fmt"
	"html"
	"regexp"
	"sort"
	"unicode/utf8"
)

// Mark is one literal string to wrap with a <mark> element. Kind and
// Index travel onto the element as data attributes so the client can map
// a click back to the source record.
type Mark struct {
	Kind  string
	Index int
	Text  string
}

var markRegionRE = regexp.MustCompile(`<mark [^>]*>.*?</mark>`)

// Overlay wraps every occurrence of each mark's text across the given
// segments. Marks apply longest first so a longer phrase is never broken
// apart by a shorter one it contains, and text already inside a mark is
// never wrapped again. Matching is case-sensitive and exact; marks
// shorter than two runes are ignored. Separator segments are skipped.
func Overlay(segments []Segment, marks []Mark) []Segment {
	applicable := make([]Mark, 0, len(marks))
	for _, m := range marks {
		if utf8.RuneCountInString(m.Text) < 2 {
			continue
		}
		applicable = append(applicable, m)
	}
	sort.SliceStable(applicable, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(applicable[i].Text), utf8.RuneCountInString(applicable[j].Text)
		if li != lj {
			return li > lj
		}
		return applicable[i].Index < applicable[j].Index
	})

	out := make([]Segment, len(segments))
	copy(out, segments)
	for i := range out {
		if out[i].Type == TypeSeparator {
			continue
		}
		for _, m := range applicable {
			out[i].HTML = wrapOutsideMarks(out[i].HTML, m)
		}
	}
	return out
}

// wrapOutsideMarks applies one mark to the free regions of s, leaving
// existing <mark> elements untouched.
func wrapOutsideMarks(s string, m Mark) string {
	needle := regexp.MustCompile(regexp.QuoteMeta(html.EscapeString(m.Text)))
	open := fmt.Sprintf(`<mark data-kind=%q data-idx="%d">`, m.Kind, m.Index)

	var out []byte
	last := 0
	for _, loc := range markRegionRE.FindAllStringIndex(s, -1) {
		out = append(out, needle.ReplaceAllStringFunc(s[last:loc[0]], func(hit string) string {
			return open + hit + "</mark>"
		})...)
		out = append(out, s[loc[0]:loc[1]]...)
		last = loc[1]
	}
	out = append(out, needle.ReplaceAllStringFunc(s[last:], func(hit string) string {
		return open + hit + "</mark>"
	})...)
	return string(out)
}
