package store

import (
	"sort"
	"strings"
	"unicode"

	"github.com/joescharf/lendchat/internal/models"
)

// stopwords are dropped from queries before scoring.
var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "i": true, "my": true, "me": true,
	"is": true, "are": true, "to": true, "of": true, "and": true, "or": true,
	"for": true, "in": true, "on": true, "what": true, "how": true, "can": true,
	"do": true, "you": true, "it": true, "this": true, "that": true, "with": true,
}

// terms lowercases s and splits it into alphanumeric words.
func terms(s string) []string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := words[:0]
	for _, w := range words {
		if !stopwords[w] {
			out = append(out, w)
		}
	}
	return out
}

// rankDocuments scores docs by how many query terms appear in their title,
// content, or category. Title hits count double. Documents that match no
// term are dropped. Ties keep the input order.
func rankDocuments(docs []models.Document, query string, limit int) []models.Document {
	qterms := terms(query)
	if len(qterms) == 0 {
		return []models.Document{}
	}

	type scored struct {
		doc   models.Document
		score int
	}
	var hits []scored
	for _, d := range docs {
		title := make(map[string]bool)
		for _, t := range terms(d.Title) {
			title[t] = true
		}
		body := make(map[string]bool)
		for _, t := range terms(d.Content + " " + d.Category) {
			body[t] = true
		}

		score := 0
		for _, q := range qterms {
			if title[q] {
				score += 2
			}
			if body[q] {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, scored{doc: d, score: score})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]models.Document, len(hits))
	for i, h := range hits {
		out[i] = h.doc
	}
	return out
}
