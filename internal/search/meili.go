package search

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
)

const idxChapters = "bitranslator_chapters"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili creates a Meilisearch client and configures the chapter
// index. The caller should proceed without it if the instance never
// becomes reachable; the health loop keeps retrying.
func NewMeili(url, apiKey string) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
	}

	if _, err := client.Health(); err != nil {
		log.Printf("search: meilisearch unavailable at %s: %v", url, err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxChapters,
		PrimaryKey: "id",
	}); err != nil {
		log.Printf("search: create index %s (may already exist): %v", idxChapters, err)
	}

	index := m.client.Index(idxChapters)
	filterable := []interface{}{"projectId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		log.Printf("search: update filterable attrs: %v", err)
	}
	searchable := []string{"title", "translatedTitle", "translatedText", "originalText"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		log.Printf("search: update searchable attrs: %v", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				log.Println("search: meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search queries the chapter index, attributing each hit to the side of
// the chapter the match came from.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}

	sr := &meili.SearchRequest{
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"*"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
		AttributesToCrop:      []string{"originalText", "translatedText"},
		CropLength:            30,
	}
	if q.ProjectID != "" {
		sr.Filter = fmt.Sprintf("projectId = %q", q.ProjectID)
	}

	resp, err := m.client.Index(idxChapters).Search(q.Text, sr)
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		r := Result{
			ChapterID: decodeString(hit, "id"),
			ProjectID: decodeString(hit, "projectId"),
			Title:     decodeString(hit, "title"),
		}
		if idx, ok := decodeInt(hit, "chapterIndex"); ok {
			r.ChapterIndex = idx
		}

		// Attribute the hit to whichever side Meilisearch highlighted.
		translated := decodeFormattedString(hit, "translatedText")
		original := decodeFormattedString(hit, "originalText")
		switch {
		case strings.Contains(translated, "<mark>"):
			r.Field = FieldTranslation
			r.Snippet = translated
		case strings.Contains(original, "<mark>"):
			r.Field = FieldOriginal
			r.Snippet = original
		default:
			r.Field = FieldTranslation
			r.Snippet = firstNonBlank(translated, original)
		}
		if q.Field != "" && r.Field != q.Field {
			continue
		}
		results = append(results, r)
	}

	return results, int(resp.EstimatedTotalHits), nil
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt(hit meili.Hit, key string) (int, bool) {
	raw, ok := hit[key]
	if !ok {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	return 0, false
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]string
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	return strings.TrimSpace(formatted[key])
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

// IndexChapter adds or updates one chapter in the search index.
func (m *Meili) IndexChapter(rec ChapterRecord) error {
	_, err := m.client.Index(idxChapters).AddDocuments([]ChapterRecord{rec}, nil)
	return err
}

// IndexChapters bulk-indexes chapters.
func (m *Meili) IndexChapters(recs []ChapterRecord) error {
	if len(recs) == 0 {
		return nil
	}
	_, err := m.client.Index(idxChapters).AddDocuments(recs, nil)
	return err
}

// DeleteChapter removes one chapter from the search index.
func (m *Meili) DeleteChapter(id string) error {
	_, err := m.client.Index(idxChapters).DeleteDocument(id, nil)
	return err
}

// DeleteProject removes every chapter of a project from the index.
func (m *Meili) DeleteProject(projectID string) error {
	_, err := m.client.Index(idxChapters).DeleteDocumentsByFilter(fmt.Sprintf("projectId = %q", projectID), nil)
	return err
}
