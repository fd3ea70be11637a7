// Package parser provides text/value normalizers and record validation for
// extracted product data.
package parser

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopcrawl/go-product-worker/models"
)

// DefaultCurrency is assumed when no currency marker is present.
const DefaultCurrency = "USD"

var (
	numberRe  = regexp.MustCompile(`[\d,]+\.?\d*`)
	ratingRe  = regexp.MustCompile(`(\d+\.?\d*)\s*(?:out of|/|\|)?`)
	integerRe = regexp.MustCompile(`\d+`)
)

// blacklistKeywords mark URLs that never point at a product listing.
var blacklistKeywords = []string{
	"login", "signin", "register", "cart", "checkout",
	"account", "help", "support", "contact", "about",
	"terms", "privacy", "policy", "blog", "news",
	"category", "brand", "deals", "offer", "sale",
}

var productURLPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/product[/-]`),
	regexp.MustCompile(`(?i)/item[/-]`),
	regexp.MustCompile(`(?i)/p/`),
	regexp.MustCompile(`(?i)/dp/`),
	regexp.MustCompile(`(?i)/products/`),
	regexp.MustCompile(`(?i)[?&]pid=`),
	regexp.MustCompile(`(?i)[?&]id=`),
	regexp.MustCompile(`(?i)/men-`),
	regexp.MustCompile(`(?i)/women-`),
	regexp.MustCompile(`(?i)/kids-`),
	regexp.MustCompile(`(?i)productId=`),
}

// genericTitles are navigation labels that disqualify a candidate title.
var genericTitles = map[string]struct{}{
	"home": {}, "about": {}, "contact": {}, "cart": {}, "login": {}, "search": {},
}

// CleanText collapses whitespace runs to single spaces and trims.
func CleanText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ParsePrice extracts a price and currency from free-form text. The currency
// is detected from symbols/codes before the numeric token is parsed; ok is
// false when no numeric token is present.
func ParsePrice(text string) (price float64, currency string, ok bool) {
	currency = DefaultCurrency
	if text == "" {
		return 0, currency, false
	}

	switch {
	case strings.Contains(text, "₹") || strings.Contains(text, "INR") || strings.Contains(text, "Rs"):
		currency = "INR"
	case strings.Contains(text, "€") || strings.Contains(text, "EUR"):
		currency = "EUR"
	case strings.Contains(text, "£") || strings.Contains(text, "GBP"):
		currency = "GBP"
	case strings.Contains(text, "$"):
		currency = "USD"
	}

	match := numberRe.FindString(text)
	if match == "" {
		return 0, currency, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(match, ",", ""), 64)
	if err != nil {
		return 0, currency, false
	}
	return value, currency, true
}

// ParseRating extracts the first decimal number from rating text, ignoring an
// optional "out of N" or "/N" suffix.
func ParseRating(text string) (float64, bool) {
	if text == "" {
		return 0, false
	}
	m := ratingRe.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// ParseReviewCount extracts the first integer token after stripping thousands
// separators.
func ParseReviewCount(text string) (int, bool) {
	if text == "" {
		return 0, false
	}
	m := integerRe.FindString(strings.ReplaceAll(text, ",", ""))
	if m == "" {
		return 0, false
	}
	value, err := strconv.Atoi(m)
	if err != nil {
		return 0, false
	}
	return value, true
}

// imageSkipPatterns mark URLs of page chrome rather than product imagery.
var imageSkipPatterns = []string{
	"logo", "icon", "favicon", "sprite", "placeholder",
	"banner", "header", "footer", "nav", "menu",
	".svg", ".ico", "data:image", "base64",
	"chevron", "arrow", "close", "search", "cart",
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".gif"}

var imageKeywords = []string{"product", "item", "image", "photo", "picture", "thumb"}

// IsLikelyProductImage scores an image URL for plausibility as product
// imagery, rejecting chrome assets, SVGs, and data URIs.
func IsLikelyProductImage(imgURL string) bool {
	if imgURL == "" {
		return false
	}
	lower := strings.ToLower(imgURL)

	for _, pattern := range imageSkipPatterns {
		if strings.Contains(lower, pattern) {
			return false
		}
	}
	for _, ext := range imageExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	for _, keyword := range imageKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	if len(imgURL) < 20 || strings.Contains(lower, "/icons/") || strings.Contains(lower, "/assets/icons") {
		return false
	}
	return len(imgURL) > 10
}

// IsBlacklisted reports whether a URL contains a non-product keyword.
func IsBlacklisted(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, keyword := range blacklistKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// IsProductURL reports whether a URL matches a known product-page pattern.
func IsProductURL(rawURL string) bool {
	for _, pattern := range productURLPatterns {
		if pattern.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// ValidateProduct checks the minimum contract for a usable record: a title
// plus either a URL or a price, a non-blacklisted URL, and a non-generic title.
func ValidateProduct(p *models.ProductRecord) bool {
	if p == nil {
		return false
	}
	title := strings.TrimSpace(p.Title)
	if title == "" {
		return false
	}
	hasURL := strings.TrimSpace(p.ProductURL) != ""
	if !hasURL && !p.HasPrice {
		return false
	}
	if hasURL && IsBlacklisted(p.ProductURL) {
		return false
	}
	if _, generic := genericTitles[strings.ToLower(title)]; generic {
		return false
	}
	return true
}

// ResolveURL resolves ref against base, returning ref untouched when it does
// not parse as a relative reference.
func ResolveURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if base == nil {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}

// Platform derives a platform name from a URL host: the first label after
// stripping any "www." prefix.
func Platform(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return "unknown"
	}
	host := strings.TrimPrefix(parsed.Hostname(), "www.")
	if host == "" {
		return "unknown"
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		return host[:i]
	}
	return host
}
