package segment

import (
	"regexp"
	"strconv"
	"strings"
)

// HeadingMatcher recognizes one family of chapter/part numbering lines.
// Matchers run in order; the set is pluggable so new locales can be added
// without touching the segmentation core.
type HeadingMatcher struct {
	Name    string
	Pattern *regexp.Regexp
}

var defaultHeadingMatchers = []HeadingMatcher{
	{Name: "cjk", Pattern: regexp.MustCompile(`^第[0-9一二三四五六七八九十百千零〇两]{1,6}[章节回部篇卷集].{0,30}$`)},
	{Name: "english", Pattern: regexp.MustCompile(`(?i)^(chapter|part|book|section|volume)\s+([0-9]{1,4}|[ivxlcdm]{1,7})\b.{0,40}$`)},
	{Name: "french", Pattern: regexp.MustCompile(`(?i)^(chapitre|partie|livre|tome)\s+([0-9]{1,4}|[ivxlcdm]{1,7})\b.{0,40}$`)},
	{Name: "german", Pattern: regexp.MustCompile(`(?i)^(kapitel|teil|buch)\s+([0-9]{1,4}|[ivxlcdm]{1,7})\b.{0,40}$`)},
	{Name: "spanish", Pattern: regexp.MustCompile(`(?i)^(capítulo|capitulo|parte|libro)\s+([0-9]{1,4}|[ivxlcdm]{1,7})\b.{0,40}$`)},
	{Name: "russian", Pattern: regexp.MustCompile(`(?i)^(глава|часть|книга|том)\s+[0-9]{1,4}\b.{0,40}$`)},
	{Name: "arabic-numeral", Pattern: regexp.MustCompile(`^[0-9]{1,4}[.、]?$`)},
	{Name: "roman-numeral", Pattern: regexp.MustCompile(`^[IVXLCDM]{1,7}\.?$`)},
}

// DefaultHeadingMatchers returns a fresh copy of the built-in matcher
// set so callers can reorder or extend it without aliasing.
func DefaultHeadingMatchers() []HeadingMatcher {
	out := make([]HeadingMatcher, len(defaultHeadingMatchers))
	copy(out, defaultHeadingMatchers)
	return out
}

var numberingPrefixRE = regexp.MustCompile(`(?i)^(第[0-9一二三四五六七八九十百千零〇两]{1,6}[章节回部篇卷集]|(chapter|part|section|chapitre|kapitel|capítulo|глава)\s+([0-9]{1,4}|[ivxlcdm]{1,7}))[\s:：.、\-—]*`)

// stripNumberingPrefix removes a leading chapter-numbering token so that
// "Chapter 3: The Door" and "The Door" normalize to the same title.
func stripNumberingPrefix(s string) string {
	return numberingPrefixRE.ReplaceAllString(s, "")
}

var (
	chapterNumberRE = regexp.MustCompile(`(?i)^\s*(?:第([0-9一二三四五六七八九十百千零〇两]{1,6})[章节回]|(?:chapter|chapitre|kapitel|capítulo|capitulo|глава)\s+([0-9]{1,4}|[ivxlcdm]{1,7})|([0-9]{1,4})(?:[.、\s]|$))`)
	partNumberRE    = regexp.MustCompile(`(?i)^\s*(?:第([0-9一二三四五六七八九十百千零〇两]{1,6})[部篇卷集]|(?:part|partie|teil|parte|book|volume|книга|часть|том)\s+([0-9]{1,4}|[ivxlcdm]{1,7}))`)
)

// ChapterNumber extracts the ordinal from a chapter title such as
// "Chapter 12: The Door", "第三章", or "7. Der Anfang".
func ChapterNumber(title string) (int, bool) {
	return headingNumber(chapterNumberRE, title)
}

// PartNumber extracts the ordinal from a part-divider title such as
// "Part II" or "第二部".
func PartNumber(title string) (int, bool) {
	return headingNumber(partNumberRE, title)
}

func headingNumber(re *regexp.Regexp, title string) (int, bool) {
	m := re.FindStringSubmatch(title)
	if m == nil {
		return 0, false
	}
	for _, g := range m[1:] {
		if g != "" {
			return parseNumeral(g)
		}
	}
	return 0, false
}

func parseNumeral(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, n > 0
	}
	if n, ok := parseRomanNumeral(s); ok {
		return n, true
	}
	return parseCJKNumeral(s)
}

var romanValues = map[byte]int{'i': 1, 'v': 5, 'x': 10, 'l': 50, 'c': 100, 'd': 500, 'm': 1000}

func parseRomanNumeral(s string) (int, bool) {
	s = strings.ToLower(s)
	total := 0
	for i := 0; i < len(s); i++ {
		v, ok := romanValues[s[i]]
		if !ok {
			return 0, false
		}
		if i+1 < len(s) && romanValues[s[i+1]] > v {
			total -= v
			continue
		}
		total += v
	}
	if total <= 0 {
		return 0, false
	}
	return total, true
}

var (
	cjkDigits = map[rune]int{'零': 0, '〇': 0, '一': 1, '二': 2, '两': 2, '三': 3, '四': 4, '五': 5, '六': 6, '七': 7, '八': 8, '九': 9}
	cjkUnits  = map[rune]int{'十': 10, '百': 100, '千': 1000}
)

func parseCJKNumeral(s string) (int, bool) {
	total, current := 0, 0
	seen := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			current = current*10 + int(r-'0')
		case cjkDigits[r] > 0 || r == '零' || r == '〇':
			current = cjkDigits[r]
		case cjkUnits[r] > 0:
			// A bare unit counts as one of it, as in 十二 = 12.
			if current == 0 {
				current = 1
			}
			total += current * cjkUnits[r]
			current = 0
		default:
			return 0, false
		}
		seen = true
	}
	if !seen || total+current <= 0 {
		return 0, false
	}
	return total + current, true
}
