package search

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxSearchTerms caps the number of terms extracted from recognised text
const MaxSearchTerms = 10

// defaultStopwords is a short Dutch and English list of function words.
// Content words such as "koop", "euro" or "jaar" are deliberately absent.
var defaultStopwords = []string{
	// Dutch
	"de", "het", "een", "en", "van", "te", "in", "op", "met", "voor",
	"is", "dat", "die", "dit", "deze", "er", "zijn", "niet", "aan", "om",
	"bij", "of", "ook", "als", "tot", "uit", "naar", "maar", "nog", "wel",
	"ze", "je", "ik", "we", "wij", "hij", "zij", "u", "mijn", "zo",
	"dan", "door", "over", "al", "wat", "kan", "wordt", "worden", "heeft", "hebben",
	// English
	"the", "a", "an", "and", "or", "of", "to", "for", "with", "on",
	"at", "by", "from", "is", "are", "was", "be", "this", "that", "it",
	"as", "but", "not", "no", "your", "you", "our", "we", "my",
}

// TermExtractor turns recognised text into search terms. Its stopword set
// is fixed at construction and never mutated afterwards.
type TermExtractor struct {
	stopwords map[string]struct{}
	maxTerms  int
}

// NewTermExtractor builds an extractor from the default stopwords plus extra
func NewTermExtractor(extra ...string) *TermExtractor {
	stopwords := make(map[string]struct{}, len(defaultStopwords)+len(extra))
	for _, w := range defaultStopwords {
		stopwords[w] = struct{}{}
	}
	for _, w := range extra {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			stopwords[w] = struct{}{}
		}
	}
	return &TermExtractor{stopwords: stopwords, maxTerms: MaxSearchTerms}
}

// LoadStopwordsFile reads one stopword per line. Blank lines and lines
// starting with '#' are ignored.
func LoadStopwordsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open stopwords file: %w", err)
	}
	defer f.Close()

	var words []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stopwords file: %w", err)
	}
	return words, nil
}

// IsStopword reports whether w is in the extractor's stopword set
func (e *TermExtractor) IsStopword(w string) bool {
	_, ok := e.stopwords[w]
	return ok
}

// Extract returns up to MaxSearchTerms distinct terms in first-seen order.
// The result is never nil.
func (e *TermExtractor) Extract(text string) []string {
	terms := make([]string, 0, e.maxTerms)
	seen := make(map[string]struct{})

	for _, tok := range strings.Fields(normalizeText(text)) {
		if len(terms) == e.maxTerms {
			break
		}
		if utf8.RuneCountInString(tok) < 2 || isShortNumber(tok) || e.IsStopword(tok) {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		terms = append(terms, tok)
	}

	return terms
}

// normalizeText lower-cases text and replaces every rune that is not a
// letter, digit or combining mark with a space
func normalizeText(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r):
			return unicode.ToLower(r)
		default:
			return ' '
		}
	}, text)
}

// isShortNumber matches bare numeric tokens of at most three digits.
// Longer numbers are kept since they are usually years or model numbers.
func isShortNumber(tok string) bool {
	if len(tok) > 3 {
		return false
	}
	for _, r := range tok {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
