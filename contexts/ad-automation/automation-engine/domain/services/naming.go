package services

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"adpilot/contexts/ad-automation/automation-engine/domain/entities"
)

const (
	// MaxCampaignNameLength is the platform's campaign name field limit.
	MaxCampaignNameLength   = 128
	DefaultCampaignTemplate = "Harvest | {term} | {matchType}"
	ellipsis                = "..."
	// FallbackHarvestCPC seeds cpcMultiplier bids for terms with no clicks.
	FallbackHarvestCPC = 0.50
	// DefaultHarvestBudget is the daily budget of a created harvest campaign
	// when the rule does not set one.
	DefaultHarvestBudget = 10.00
)

var catalogIdentifier = regexp.MustCompile(`(?i)^b0[a-z0-9]{8}$`)

// IsCatalogIdentifier reports whether a search term is a product identifier
// rather than free text.
func IsCatalogIdentifier(term string) bool {
	return catalogIdentifier.MatchString(strings.TrimSpace(term))
}

// HarvestCampaignName renders the template and, when the result exceeds the
// platform limit, shortens only the term with a trailing ellipsis.
func HarvestCampaignName(template, term string, matchType entities.MatchType) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultCampaignTemplate
	}
	render := func(t string) string {
		out := strings.ReplaceAll(template, "{term}", t)
		return strings.ReplaceAll(out, "{matchType}", string(matchType))
	}

	name := render(term)
	if utf8.RuneCountInString(name) <= MaxCampaignNameLength {
		return name
	}
	occurrences := strings.Count(template, "{term}")
	if occurrences == 0 {
		return truncateRunes(name, MaxCampaignNameLength)
	}
	budget := (MaxCampaignNameLength - utf8.RuneCountInString(render(""))) / occurrences
	if budget <= utf8.RuneCountInString(ellipsis) {
		return truncateRunes(name, MaxCampaignNameLength)
	}
	short := truncateRunes(term, budget-utf8.RuneCountInString(ellipsis)) + ellipsis
	return render(short)
}

// HarvestBid derives the ad-group default bid for a new harvest destination.
func HarvestBid(h entities.Harvest, window entities.WindowMetrics) float64 {
	var bid float64
	switch h.BidMode {
	case entities.BidModeCPCMultiplier:
		cpc := window.CPC
		if window.Clicks == 0 || cpc <= 0 {
			cpc = FallbackHarvestCPC
		}
		bid = cpc * h.CPCMultiplier
	default:
		bid = h.BidValue
	}
	if h.MaxBid != nil && bid > *h.MaxBid {
		bid = *h.MaxBid
	}
	if bid < PlatformMinimumBid {
		bid = PlatformMinimumBid
	}
	return RoundCents(bid)
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
