package research

import (
	"context"
	"html"
	"net"
	"regexp"
	"sort"
	"strings"

	"github.com/galihcitta/multi-tenant-outreach-engine/internal/models"
)

// acceptScore is the lowest score (exclusive) a candidate address needs to be used.
const acceptScore = -20

var (
	mailtoPattern = regexp.MustCompile(`(?i)mailto:([a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,})`)
	emailPattern  = regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)

	assetSuffixes = []string{".png", ".jpg", ".jpeg", ".gif", ".css", ".js", ".svg", ".woff", ".webp", ".mp4"}
	junkMarkers   = []string{"sentry", "noreply", "no-reply", "example", "domain", "email.com", "bootstrap", "react"}
)

// ExtractEmails pulls plausible contact addresses out of raw page HTML, lowercased,
// deduplicated and sorted.
func ExtractEmails(raw string) []string {
	if raw == "" {
		return nil
	}
	text := html.UnescapeString(raw)

	found := make(map[string]struct{})
	for _, m := range mailtoPattern.FindAllStringSubmatch(text, -1) {
		found[strings.ToLower(m[1])] = struct{}{}
	}
	for _, m := range emailPattern.FindAllString(text, -1) {
		found[strings.ToLower(m)] = struct{}{}
	}

	var out []string
	for email := range found {
		if isJunk(email) {
			continue
		}
		out = append(out, email)
	}
	sort.Strings(out)
	return out
}

func isJunk(email string) bool {
	if len(email) < 5 || len(email) > 60 {
		return true
	}
	for _, s := range assetSuffixes {
		if strings.HasSuffix(email, s) {
			return true
		}
	}
	for _, m := range junkMarkers {
		if strings.Contains(email, m) {
			return true
		}
	}
	return false
}

// mergeEmails unions the model's addresses with the ones scraped from HTML.
func mergeEmails(lists ...[]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, list := range lists {
		for _, e := range list {
			e = strings.ToLower(strings.TrimSpace(e))
			if e == "" || !strings.Contains(e, "@") {
				continue
			}
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

type keywordScore struct {
	keywords []string
	score    int
}

var (
	salesScores = []keywordScore{
		{[]string{"ceo", "owner", "founder", "president"}, 20},
		{[]string{"career", "jobs", "recruit"}, -20},
	}
	jobHuntScores = []keywordScore{
		{[]string{"career", "jobs", "recruit", "hr", "people"}, 20},
		{[]string{"cto", "tech", "engineering"}, 25},
		{[]string{"ceo", "founder"}, 15},
	}
	commonScores = []keywordScore{
		{[]string{"office", "info", "hello", "contact"}, 15},
	}
)

// MXLookup reports a domain's mail exchangers.
type MXLookup func(ctx context.Context, domain string) ([]*net.MX, error)

type scorer struct {
	mode   models.TenantMode
	lookup MXLookup
	mx     map[string]bool
}

func newScorer(mode models.TenantMode, lookup MXLookup) *scorer {
	return &scorer{mode: mode, lookup: lookup, mx: make(map[string]bool)}
}

func (s *scorer) score(ctx context.Context, email string) int {
	local, domain, ok := strings.Cut(strings.ToLower(email), "@")
	if !ok {
		return -100
	}
	tokens := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '-' || r == '_' || r == '+'
	})

	table := salesScores
	if s.mode == models.TenantModeJobHunt {
		table = jobHuntScores
	}

	total := 0
	for _, groups := range [][]keywordScore{table, commonScores} {
		for _, group := range groups {
			if matchesAny(tokens, group.keywords) {
				total += group.score
			}
		}
	}
	if strings.Contains(local, ".") {
		total += 5
	}
	if !s.hasMX(ctx, domain) {
		total -= 100
	}
	return total
}

func (s *scorer) hasMX(ctx context.Context, domain string) bool {
	if ok, cached := s.mx[domain]; cached {
		return ok
	}
	records, err := s.lookup(ctx, domain)
	ok := err == nil && len(records) > 0
	s.mx[domain] = ok
	return ok
}

func matchesAny(tokens, keywords []string) bool {
	for _, t := range tokens {
		for _, k := range keywords {
			if strings.HasPrefix(t, k) {
				return true
			}
		}
	}
	return false
}

// best returns the highest-scoring acceptable address, or "" when none qualifies.
// Ties keep the earlier candidate.
func (s *scorer) best(ctx context.Context, candidates []string) (string, int) {
	bestEmail, bestScore := "", acceptScore
	for _, e := range candidates {
		if sc := s.score(ctx, e); sc > bestScore {
			bestEmail, bestScore = e, sc
		}
	}
	return bestEmail, bestScore
}
