package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopcrawl/go-product-worker/models"
	"github.com/shopcrawl/go-product-worker/parser"
)

var (
	priceClassRe     = regexp.MustCompile(`(?i)price`)
	priceLikeClassRe = regexp.MustCompile(`(?i)price|cost|amount|rs\.?|₹`)
)

// navWords disqualify text blocks that are navigation chrome, not listings.
var navWords = []string{"home", "menu", "login", "cart", "search", "account"}

// genericLinkTitles disqualify anchor titles that are boilerplate.
var genericLinkTitles = []string{
	"click here", "more", "view", "link", "image", "logo", "home", "menu", "search",
	"cart", "account", "login", "sign in", "sign up",
}

var assetExtensions = []string{".jpg", ".png", ".gif", ".css", ".js", ".svg", ".ico"}

var skipPaths = []string{"/login", "/cart", "/checkout", "/account", "/help", "/contact", "/about", "/terms", "/privacy"}

// extractHeuristics is strategy 5: anchors wrapping an image whose resolved
// URL matches a product pattern and that have a price-looking element within
// 3 ancestor levels.
func (e *Engine) extractHeuristics(doc *goquery.Document, base *url.URL, maxItems int) []models.ProductRecord {
	var products []models.ProductRecord
	checked := 0

	doc.Find("a[href]").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		checked++
		if checked > maxItems*3 {
			return false
		}

		img := link.Find("img[src]").First()
		if img.Length() == 0 {
			return true
		}

		resolved := parser.ResolveURL(base, link.AttrOr("href", ""))
		if !parser.IsProductURL(resolved) {
			return true
		}

		priceElem := findByClassPattern(link, priceClassRe, 3)
		if priceElem == nil {
			return true
		}

		title := link.AttrOr("title", "")
		if title == "" {
			title = img.AttrOr("alt", "")
		}
		if title == "" {
			title = link.Text()
		}

		p := &models.ProductRecord{
			ProductURL: resolved,
			ImageURL:   parser.ResolveURL(base, imageURLFromAttrs(img)),
			Title:      parser.CleanText(title),
			InStock:    true,
			Currency:   parser.DefaultCurrency,
		}

		if price, currency, ok := parser.ParsePrice(priceElem.Text()); ok {
			p.Price = price
			p.HasPrice = true
			p.Currency = currency
		}

		if parser.ValidateProduct(p) {
			products = append(products, *p)
		}
		return len(products) < maxItems
	})

	return products
}

// extractLinksWithImages is strategy 6, the last resort. It first scans
// container-like elements with an image for plausible product text, then
// every anchor with a discoverable image for same-domain non-asset paths
// with a non-generic title.
func (e *Engine) extractLinksWithImages(doc *goquery.Document, base *url.URL, maxItems int) []models.ProductRecord {
	var products []models.ProductRecord

	scanned := 0
	doc.Find("div, li, article").EachWithBreak(func(_ int, elem *goquery.Selection) bool {
		scanned++
		if scanned > maxItems*10 {
			return false
		}
		img := elem.Find("img").First()
		if img.Length() == 0 {
			return true
		}
		link := elem.Find("a[href]").First()
		if link.Length() == 0 {
			if parent := elem.Parent(); parent.Length() > 0 {
				link = parent.Find("a[href]").First()
			}
		}
		if link.Length() > 0 {
			return true // handled by the anchor pass below
		}

		text := strings.TrimSpace(elem.Text())
		if len(text) <= 10 || len(text) >= 500 {
			return true
		}
		lower := strings.ToLower(text)
		for _, nav := range navWords {
			if strings.Contains(lower, nav) {
				return true
			}
		}

		p := &models.ProductRecord{
			ProductURL: baseString(base),
			ImageURL:   parser.ResolveURL(base, imageURLFromAttrs(img)),
			Title:      truncate(parser.CleanText(text), 200),
			InStock:    true,
			Currency:   parser.DefaultCurrency,
		}
		if priceElem := elem.Find(classPatternSelector()).First(); priceElem.Length() > 0 {
			if price, currency, ok := parser.ParsePrice(priceElem.Text()); ok {
				p.Price = price
				p.HasPrice = true
				p.Currency = currency
			}
		}
		if parser.ValidateProduct(p) {
			products = append(products, *p)
		}
		return len(products) < maxItems
	})
	if len(products) >= maxItems {
		return products[:maxItems]
	}

	doc.Find("a[href]").EachWithBreak(func(_ int, link *goquery.Selection) bool {
		img := discoverImage(link)
		if img == nil {
			return true
		}

		href := link.AttrOr("href", "")
		resolved := parser.ResolveURL(base, href)
		if resolved == "" || resolved == "#" || strings.HasPrefix(resolved, "javascript:") {
			return true
		}
		if parser.IsBlacklisted(resolved) {
			return true
		}
		if !isProductLike(resolved, base) {
			return true
		}

		title := link.AttrOr("title", "")
		if title == "" {
			title = img.AttrOr("alt", "")
		}
		if title == "" {
			title = link.Text()
		}
		if title == "" {
			if parent := link.Parent(); parent.Length() > 0 {
				title = parent.Text()
			}
		}
		title = parser.CleanText(title)
		if len(title) < 3 || hasGenericTitle(title) {
			return true
		}

		imgSrc := strings.ToLower(img.AttrOr("src", "") + img.AttrOr("data-src", "") + img.AttrOr("data-lazy-src", ""))
		if strings.Contains(imgSrc, "logo") || strings.Contains(imgSrc, "brand") || strings.Contains(imgSrc, "icon") {
			return true
		}

		p := &models.ProductRecord{
			ProductURL: resolved,
			ImageURL:   parser.ResolveURL(base, imageURLFromAttrs(img)),
			Title:      title,
			InStock:    true,
			Currency:   parser.DefaultCurrency,
		}
		if priceElem := findByClassPattern(link, priceLikeClassRe, 5); priceElem != nil {
			if price, currency, ok := parser.ParsePrice(priceElem.Text()); ok {
				p.Price = price
				p.HasPrice = true
				p.Currency = currency
			}
		}
		if parser.ValidateProduct(p) {
			products = append(products, *p)
		}
		return len(products) < maxItems
	})

	return products
}

// discoverImage finds an image attached to an anchor: inside it, in the
// parent, the next sibling, or up to 5 ancestor levels.
func discoverImage(link *goquery.Selection) *goquery.Selection {
	if img := link.Find("img").First(); img.Length() > 0 {
		return img
	}
	if parent := link.Parent(); parent.Length() > 0 {
		if img := parent.Find("img").First(); img.Length() > 0 {
			return img
		}
	}
	if sibling := link.Next(); sibling.Length() > 0 {
		if img := sibling.Find("img").First(); img.Length() > 0 {
			return img
		}
	}
	ancestor := link.Parent()
	for level := 0; level < 5 && ancestor.Length() > 0; level++ {
		if img := ancestor.Find("img").First(); img.Length() > 0 {
			return img
		}
		ancestor = ancestor.Parent()
	}
	return nil
}

// findByClassPattern looks for an element whose class matches re, starting at
// elem and walking up the given number of ancestor levels.
func findByClassPattern(elem *goquery.Selection, re *regexp.Regexp, levels int) *goquery.Selection {
	current := elem
	for i := 0; i <= levels && current.Length() > 0; i++ {
		var found *goquery.Selection
		current.Find("[class]").EachWithBreak(func(_ int, candidate *goquery.Selection) bool {
			if re.MatchString(candidate.AttrOr("class", "")) {
				found = candidate
				return false
			}
			return true
		})
		if found != nil {
			return found
		}
		current = current.Parent()
	}
	return nil
}

// isProductLike accepts known product patterns, or same-domain paths that are
// long enough, not navigational, and not media assets.
func isProductLike(resolved string, base *url.URL) bool {
	if parser.IsProductURL(resolved) {
		return true
	}
	parsed, err := url.Parse(resolved)
	if err != nil {
		return false
	}
	sameDomain := base != nil && parsed.Host == base.Host
	if !sameDomain && strings.HasPrefix(resolved, "http") {
		return false
	}
	path := strings.ToLower(parsed.Path)
	if len(parsed.Path) <= 3 {
		return false
	}
	for _, skip := range skipPaths {
		if strings.Contains(path, skip) {
			return false
		}
	}
	for _, ext := range assetExtensions {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}
	return true
}

func hasGenericTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, generic := range genericLinkTitles {
		if strings.Contains(lower, generic) {
			return true
		}
	}
	return false
}

func classPatternSelector() string {
	// goquery cannot select by class regex; match the broad price-ish classes.
	return `[class*="price"], [class*="cost"], [class*="amount"]`
}

func baseString(base *url.URL) string {
	if base == nil {
		return ""
	}
	return base.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
