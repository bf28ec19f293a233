package app

import (
	"context"
	"encoding/json"

	"github.com/eveshi/bitranslator/internal/backend"
	"github.com/eveshi/bitranslator/internal/segment"
	"github.com/eveshi/bitranslator/internal/store"
)

// Renumber assigns display numbers to part dividers and body chapters.
// mode may be "continuous", "per_part", or empty to auto-detect from
// the numbering the titles already carry. The detected mode is
// persisted once; changing it later requires force.
func (s *Service) Renumber(ctx context.Context, projectID, mode string, force bool) ([]ChapterSummary, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	chapters, err := s.store.ListChapters(ctx, projectID)
	if err != nil {
		return nil, err
	}

	if mode == "" {
		// Once a mode is persisted it is never re-guessed.
		mode = project.NumberingMode
	}
	if mode == "" {
		mode = detectNumberingMode(chapters)
	}
	if mode != store.NumberingContinuous && mode != store.NumberingPerPart {
		return nil, errValidation("numbering_mode must be continuous or per_part")
	}
	if project.NumberingMode != "" && mode != project.NumberingMode && !force {
		return nil, errValidation("numbering_mode is already set; pass force to change it")
	}
	if err := s.store.SetNumberingMode(ctx, projectID, mode, force); err != nil {
		return nil, err
	}

	if err := s.store.SetBodyNumbers(ctx, projectID, bodyNumbers(chapters, mode)); err != nil {
		return nil, err
	}
	return s.ListChapters(ctx, projectID)
}

// detectNumberingMode inspects the numbering the source titles already
// carry. per_part only when chapter numbers restart after a part
// divider; a book with parts but continuously numbered chapters stays
// continuous, as does a book whose titles carry no numbers at all.
func detectNumberingMode(chapters []store.Chapter) string {
	hasParts := false
	for _, c := range chapters {
		if c.ChapterType == store.ChapterPartDivider {
			hasParts = true
			break
		}
	}
	if !hasParts {
		return store.NumberingContinuous
	}

	type detection struct {
		num  int
		ok   bool
		part int
	}
	part := -1
	var seen []detection
	for _, c := range chapters {
		switch c.ChapterType {
		case store.ChapterPartDivider:
			part++
		case store.ChapterBody:
			n, ok := segment.ChapterNumber(c.Title)
			seen = append(seen, detection{num: n, ok: ok, part: part})
		}
	}
	if len(seen) < 2 {
		return store.NumberingContinuous
	}
	for i := 1; i < len(seen); i++ {
		prev, cur := seen[i-1], seen[i]
		if cur.ok && prev.ok && cur.part > prev.part && cur.part >= 0 && cur.num <= prev.num {
			return store.NumberingPerPart
		}
	}
	return store.NumberingContinuous
}

// bodyNumbers assigns display numbers in reading order: part dividers
// take their part ordinal, body chapters their chapter ordinal. A
// number already present in the title wins over the running count.
// Front and back matter stay unnumbered; in per_part mode the chapter
// count restarts at each divider.
func bodyNumbers(chapters []store.Chapter, mode string) map[string]int {
	numbers := make(map[string]int)
	partNum, chNum := 0, 0
	for _, c := range chapters {
		switch c.ChapterType {
		case store.ChapterPartDivider:
			partNum++
			if n, ok := segment.PartNumber(c.Title); ok {
				partNum = n
			}
			numbers[c.ID] = partNum
			if mode == store.NumberingPerPart {
				chNum = 0
			}
		case store.ChapterBody:
			chNum++
			if n, ok := segment.ChapterNumber(c.Title); ok {
				chNum = n
			}
			numbers[c.ID] = chNum
		}
	}
	return numbers
}

// ── Name map ────────────────────────────────────────────────────────────

// NameMap returns the proper-noun glossary the backend extracted from
// the source text, caching a copy on the project row.
func (s *Service) NameMap(ctx context.Context, projectID string) ([]backend.NameEntry, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	entries, err := s.backend.NameMap(ctx, projectID)
	if err != nil {
		return nil, errBackend(err)
	}
	if raw, err := json.Marshal(entries); err == nil {
		if err := s.store.SetNameMap(ctx, projectID, raw); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

// RescanNames asks the backend to re-extract proper nouns, then
// refreshes the cached map.
func (s *Service) RescanNames(ctx context.Context, projectID string) ([]backend.NameEntry, error) {
	if _, err := s.store.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	if err := s.backend.RescanNames(ctx, projectID); err != nil {
		return nil, errBackend(err)
	}
	return s.NameMap(ctx, projectID)
}
