// Package segment splits raw chapter text into typed, render-ready
// segments and projects literal annotation/highlight strings onto them.
// All matching operates on HTML-escaped text so injected markers never
// corrupt, and are never corrupted by, the escaping step.
package segment

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"
)

type Type string

const (
	TypeHeading   Type = "heading"
	TypeParagraph Type = "paragraph"
	TypeSeparator Type = "separator"
)

// Segment is one typed unit of rendered chapter text. HTML holds the
// escaped content, possibly wrapped with <mark> elements after Overlay.
type Segment struct {
	Type Type   `json:"type"`
	HTML string `json:"html"`
}

// Options tune the heuristic parts of segmentation. The similarity
// threshold and length factor are empirical; they are exposed rather than
// hard-coded so callers can adjust them per corpus.
type Options struct {
	// TitleSimilarity is the character-set Jaccard similarity above which
	// a short first paragraph is treated as a repeat of the chapter title.
	TitleSimilarity float64
	// TitleLengthFactor caps fuzzy title matching to first paragraphs
	// shorter than factor × title length (in runes).
	TitleLengthFactor int
	// Headings is the ordered matcher list for chapter/part numbering
	// lines. Defaults to DefaultHeadingMatchers.
	Headings []HeadingMatcher
}

func DefaultOptions() Options {
	return Options{
		TitleSimilarity:   0.6,
		TitleLengthFactor: 3,
		Headings:          DefaultHeadingMatchers(),
	}
}

var (
	blankLineRE = regexp.MustCompile(`\n[ \t]*\n`)
	separatorRE = regexp.MustCompile(`^[\s*\-=~·•—]+$`)
	decorRE     = regexp.MustCompile(`[*\-=~·•—]`)
	spaceRE     = regexp.MustCompile(`\s+`)
)

// Split turns raw chapter text into an ordered segment sequence. The
// known chapter title is used to elide a duplicated title line; callers
// render the title themselves as the chapter heading.
func Split(raw, title string) []Segment {
	return SplitWithOptions(raw, title, DefaultOptions())
}

func SplitWithOptions(raw, title string, opts Options) []Segment {
	if opts.TitleSimilarity <= 0 {
		opts.TitleSimilarity = 0.6
	}
	if opts.TitleLengthFactor <= 0 {
		opts.TitleLengthFactor = 3
	}
	if opts.Headings == nil {
		opts.Headings = DefaultHeadingMatchers()
	}

	segments := make([]Segment, 0)
	titleSeen := false
	for _, block := range splitBlocks(raw) {
		line := strings.TrimSpace(block)
		if line == "" {
			continue
		}

		if isSeparator(line) {
			segments = append(segments, Segment{Type: TypeSeparator, HTML: "* * *"})
			continue
		}

		if !titleSeen {
			titleSeen = true
			if matchesTitle(line, title, opts) {
				continue
			}
		}

		if isHeadingLine(line, opts.Headings) {
			segments = append(segments, Segment{Type: TypeHeading, HTML: html.EscapeString(line)})
			continue
		}

		segments = append(segments, Segment{Type: TypeParagraph, HTML: html.EscapeString(line)})
	}
	return segments
}

// splitBlocks splits on blank lines; when that yields a single run that
// still contains internal newlines the source used single-newline
// paragraph breaks, so fall back to splitting on those.
func splitBlocks(raw string) []string {
	blocks := blankLineRE.Split(raw, -1)
	if len(blocks) == 1 && strings.Contains(strings.TrimSpace(raw), "\n") {
		blocks = strings.Split(raw, "\n")
	}
	return blocks
}

func isSeparator(line string) bool {
	if !separatorRE.MatchString(line) {
		return false
	}
	return len(decorRE.FindAllString(line, -1)) >= 3
}

func isHeadingLine(line string, matchers []HeadingMatcher) bool {
	if utf8.RuneCountInString(line) >= 60 {
		return false
	}
	if strings.HasSuffix(line, "。") || strings.HasSuffix(line, ".") ||
		strings.HasSuffix(line, "！") || strings.HasSuffix(line, "!") ||
		strings.HasSuffix(line, "？") || strings.HasSuffix(line, "?") ||
		strings.HasSuffix(line, "…") || strings.HasSuffix(line, "」") {
		return false
	}
	for _, m := range matchers {
		if m.Pattern.MatchString(line) {
			return true
		}
	}
	return false
}

// matchesTitle decides whether the first paragraph merely repeats the
// chapter title. Exact match after normalization always suppresses; fuzzy
// similarity applies only to short paragraphs so genuine opening lines
// that happen to share characters with the title survive.
func matchesTitle(line, title string, opts Options) bool {
	if strings.TrimSpace(title) == "" {
		return false
	}
	normLine := normalizeTitle(line)
	normTitle := normalizeTitle(title)
	if normLine != "" && normLine == normTitle {
		return true
	}
	maxLen := opts.TitleLengthFactor * utf8.RuneCountInString(title)
	if maxLen < 24 {
		maxLen = 24
	}
	if utf8.RuneCountInString(line) >= maxLen {
		return false
	}
	return jaccard(normLine, normTitle) > opts.TitleSimilarity
}

var titleDecorRE = regexp.MustCompile(`^[\s\-—:：.、#*]+|[\s\-—:：.、#*]+$`)

func normalizeTitle(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = stripNumberingPrefix(s)
	s = titleDecorRE.ReplaceAllString(s, "")
	return spaceRE.ReplaceAllString(s, " ")
}

// jaccard computes character-set overlap between two strings. Cheap and
// casing-insensitive by construction (inputs are normalized first).
func jaccard(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	setA := make(map[rune]struct{})
	for _, r := range a {
		setA[r] = struct{}{}
	}
	setB := make(map[rune]struct{})
	for _, r := range b {
		setB[r] = struct{}{}
	}
	intersection := 0
	for r := range setA {
		if _, ok := setB[r]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
