// Package render composes stored chapter text, annotations and
// highlights into segment lists ready for the reading view.
package render

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/eveshi/bitranslator/internal/segment"
	"github.com/eveshi/bitranslator/internal/store"
)

// RenderedChapter is the reading view of one chapter: typed segments of
// the translation with annotation and highlight marks applied, plus the
// untouched original for side-by-side display.
type RenderedChapter struct {
	ChapterID        string            `json:"chapter_id"`
	Title            string            `json:"title"`
	TranslatedTitle  string            `json:"translated_title,omitempty"`
	Segments         []segment.Segment `json:"segments"`
	OriginalSegments []segment.Segment `json:"original_segments"`
}

// Compose builds the rendered view. Annotations mark their translated
// expression, highlights their literal text; a highlight whose text no
// longer occurs simply produces no mark.
func Compose(ch store.Chapter, annotations []store.Annotation, highlights []store.Highlight) RenderedChapter {
	segs := segment.Split(ch.TranslatedText, displayTitle(ch))

	marks := make([]segment.Mark, 0, len(annotations)+len(highlights))
	for i, a := range annotations {
		marks = append(marks, segment.Mark{Kind: "annotation", Index: i, Text: a.TargetText})
	}
	for i, h := range highlights {
		marks = append(marks, segment.Mark{Kind: "highlight", Index: i, Text: h.Text})
	}

	return RenderedChapter{
		ChapterID:        ch.ID,
		Title:            ch.Title,
		TranslatedTitle:  ch.TranslatedTitle,
		Segments:         segment.Overlay(segs, marks),
		OriginalSegments: segment.Split(ch.OriginalText, ch.Title),
	}
}

func displayTitle(ch store.Chapter) string {
	if ch.TranslatedTitle != "" {
		return ch.TranslatedTitle
	}
	return ch.Title
}

// Fingerprint identifies one rendered state of a chapter. Any change to
// the live translation, the annotation set or the highlight set yields a
// different value, so a cached render is valid exactly while its
// fingerprint matches.
func Fingerprint(ch store.Chapter, annotations []store.Annotation, highlights []store.Highlight) string {
	h := sha256.New()
	h.Write([]byte(ch.ID))
	h.Write([]byte(strconv.FormatInt(ch.UpdatedAt.UnixNano(), 10)))
	h.Write([]byte(ch.TranslatedTitle))
	for _, a := range annotations {
		fmt.Fprintf(h, "a:%s:%s;", a.SourceText, a.TargetText)
	}
	for _, hl := range highlights {
		fmt.Fprintf(h, "h:%s;", hl.Text)
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
