package parser

import (
	"regexp"
	"strings"
	"time"

	"parentpal/internal/model"
)

// Confidence weights for the four independent pattern checks. They sum to
// 1.0; MinViableConfidence gates whether a regex parse is usable at all.
const (
	titleWeight    = 0.2
	dateWeight     = 0.4
	locationWeight = 0.2
	prepWeight     = 0.2

	MinViableConfidence = 0.4
)

var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}`),                                                        // ISO date
	regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`),                                                    // MM/DD/YYYY
	regexp.MustCompile(`\d{1,2}-\d{1,2}-\d{4}`),                                                    // MM-DD-YYYY
	regexp.MustCompile(`(?i)(?:Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]* \d{1,2},? \d{4}`), // Month DD, YYYY
}

var locationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:location|venue|address|at):\s*([^\n\r]+)`),
	regexp.MustCompile(`(?i)(?:held at|taking place at|located at)\s*([^\n\r]+)`),
}

var prepPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:bring|pack|remember to bring|don't forget):\s*([^\n\r]+)`),
	regexp.MustCompile(`(?i)(?:items needed|required items|what to bring):\s*([^\n\r]+)`),
	regexp.MustCompile(`(?i)(?:prep|preparation):\s*([^\n\r]+)`),
}

var prepSplitter = regexp.MustCompile(`[,;•\n\r]+`)

var subjectPrefixes = []string{"re:", "fwd:", "fw:", "[reminder]", "[event]"}

// PatternExtractor is the deterministic first stage of content parsing.
// It never calls out anywhere; confidence accumulates additively from the
// independent checks.
type PatternExtractor struct {
	minConfidence float64
}

func NewPatternExtractor(minConfidence float64) *PatternExtractor {
	if minConfidence <= 0 {
		minConfidence = MinViableConfidence
	}
	return &PatternExtractor{minConfidence: minConfidence}
}

// Extract attempts a regex-only parse of the message. It returns the
// candidate and its confidence, or (nil, confidence) when the accumulated
// confidence stays below the minimum viable threshold.
func (p *PatternExtractor) Extract(body, subject string) (*model.CandidateEvent, float64) {
	confidence := 0.0
	candidate := &model.CandidateEvent{}

	title := cleanSubject(subject)
	if title != "" {
		candidate.Title = title
		confidence += titleWeight
	}

	dates := extractDates(body)
	if len(dates) > 0 {
		candidate.StartTS = dates[0]
		if len(dates) > 1 {
			candidate.EndTS = dates[1]
		} else {
			candidate.EndTS = dates[0]
		}
		confidence += dateWeight
	}

	if loc := extractLocation(body); loc != "" {
		candidate.Location = &loc
		confidence += locationWeight
	}

	if items := extractPrepItems(body); len(items) > 0 {
		candidate.PrepItems = items
		confidence += prepWeight
	}

	if confidence < p.minConfidence {
		return nil, confidence
	}

	candidate.Confidence = confidence
	return candidate, confidence
}

// cleanSubject strips reply/forward/tag prefixes, repeating until none of
// them matches anymore.
func cleanSubject(subject string) string {
	subject = strings.TrimSpace(subject)
	for {
		stripped := false
		lower := strings.ToLower(subject)
		for _, prefix := range subjectPrefixes {
			if strings.HasPrefix(lower, prefix) {
				subject = strings.TrimSpace(subject[len(prefix):])
				stripped = true
				break
			}
		}
		if !stripped {
			return subject
		}
	}
}

// extractDates finds all recognizable dates in pattern scan order,
// normalized to midnight UTC and de-duplicated.
func extractDates(text string) []time.Time {
	seen := map[string]bool{}
	dates := []time.Time{}

	for i, pattern := range datePatterns {
		for _, match := range pattern.FindAllString(text, -1) {
			ts, ok := normalizeDate(i, match)
			if !ok {
				continue
			}
			key := ts.Format("2006-01-02")
			if seen[key] {
				continue
			}
			seen[key] = true
			dates = append(dates, ts)
		}
	}

	return dates
}

func normalizeDate(patternIdx int, match string) (time.Time, bool) {
	var layouts []string
	switch patternIdx {
	case 0:
		layouts = []string{"2006-01-02"}
	case 1:
		layouts = []string{"1/2/2006"}
	case 2:
		layouts = []string{"1-2-2006"}
	default:
		layouts = []string{"January 2, 2006", "January 2 2006"}
	}

	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, match, time.UTC); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func extractLocation(text string) string {
	for _, pattern := range locationPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

func extractPrepItems(text string) []string {
	items := []string{}

	for _, pattern := range prepPatterns {
		m := pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		for _, raw := range prepSplitter.Split(m[1], -1) {
			if item := strings.TrimSpace(raw); item != "" {
				items = append(items, item)
			}
		}
	}

	return items
}
