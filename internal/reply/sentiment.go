package reply

import (
	"strings"
	"unicode"

	"github.com/joescharf/lendchat/internal/models"
)

var positiveWords = map[string]bool{
	"thanks": true, "thank": true, "great": true, "good": true, "happy": true,
	"excellent": true, "awesome": true, "appreciate": true, "perfect": true,
	"love": true, "helpful": true, "wonderful": true, "pleased": true,
}

var negativeWords = map[string]bool{
	"bad": true, "terrible": true, "awful": true, "angry": true, "upset": true,
	"unhappy": true, "worst": true, "hate": true, "frustrated": true,
	"disappointed": true, "ridiculous": true, "useless": true, "scam": true,
	"annoyed": true, "rude": true, "poor": true, "wrong": true, "failed": true,
	"unacceptable": true, "complaint": true,
}

// Sentiment scores text against a small lexicon.
func Sentiment(text string) models.Sentiment {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	score := 0
	for _, w := range words {
		switch {
		case positiveWords[w]:
			score++
		case negativeWords[w]:
			score--
		}
	}
	switch {
	case score > 0:
		return models.SentimentPositive
	case score < 0:
		return models.SentimentNegative
	default:
		return models.SentimentNeutral
	}
}
