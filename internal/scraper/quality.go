package scraper

import "strings"

// errorMarkers flag pages that came back as interstitials rather than
// content. Matching is against the first chunk of the extracted text.
var errorMarkers = []string{
	"access denied", "403 forbidden", "404 not found", "page not found",
	"captcha", "are you a robot", "enable javascript", "cloudflare",
	"subscribe to continue", "sign in to continue", "paywall",
}

// QualityScore rates an extraction 0-10 deterministically. The weights
// are part of the persisted contract: changing them invalidates every
// stored quality score.
//
//	0-4  text length tiers (500 / 2000 / 5000 / 10000 chars)
//	+2   has headings
//	+1   has a meta description
//	+1   title present
//	+1   content-to-markup density (paragraph structure present)
//	+1   code blocks detected
//	-3   error/paywall marker found
func QualityScore(r *Result) int {
	if r == nil || r.ExtractedText == "" {
		return 0
	}
	score := 0

	switch n := len(r.ExtractedText); {
	case n >= 10000:
		score += 4
	case n >= 5000:
		score += 3
	case n >= 2000:
		score += 2
	case n >= 500:
		score++
	}

	if len(r.Headings) > 0 {
		score += 2
	}
	if r.MetaDescription != "" {
		score++
	}
	if r.Title != "" {
		score++
	}
	if strings.Count(r.ExtractedText, "\n") >= 5 {
		score++
	}
	if looksLikeCode(r.ExtractedText) {
		score++
	}

	lower := strings.ToLower(firstChunk(r.ExtractedText, 2000))
	for _, marker := range errorMarkers {
		if strings.Contains(lower, marker) {
			score -= 3
			break
		}
	}

	if score < 0 {
		return 0
	}
	if score > 10 {
		return 10
	}
	return score
}

func looksLikeCode(text string) bool {
	for _, sig := range []string{"func ", "def ", "class ", "import ", "#include", "=> {", "var ", "const "} {
		if strings.Contains(text, sig) {
			return true
		}
	}
	return false
}

func firstChunk(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
