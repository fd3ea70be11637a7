package extract

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopcrawl/go-product-worker/models"
	"github.com/shopcrawl/go-product-worker/parser"
)

// statePatterns pull JSON out of common framework state assignments and bare
// key arrays. Non-greedy matches can truncate arrays; the balanced scan below
// recovers the full value in that case.
var statePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)window\.__INITIAL_STATE__\s*=\s*(\{.*?"products".*?\})`),
	regexp.MustCompile(`(?s)window\.__PRELOADED_STATE__\s*=\s*(\{.*?"products".*?\})`),
	regexp.MustCompile(`(?s)__NEXT_DATA__\s*=\s*(\{.*?"products".*?\})`),
	regexp.MustCompile(`(?s)"products"\s*:\s*(\[[^\]]+\])`),
	regexp.MustCompile(`(?s)"items"\s*:\s*(\[[^\]]+\])`),
	regexp.MustCompile(`(?s)"data"\s*:\s*(\[[^\]]+\])`),
	regexp.MustCompile(`(?s)"results"\s*:\s*(\[[^\]]+\])`),
	regexp.MustCompile(`(?s)"catalog"\s*:\s*(\[[^\]]+\])`),
	regexp.MustCompile(`(?s)"list"\s*:\s*(\[[^\]]+\])`),
}

var arrayKeyRe = regexp.MustCompile(`(?i)("products"|"items"|"data"|"results"|"catalog"|"list")\s*:\s*\[`)

// simpleObjectPatterns catch small standalone JSON objects with product-like
// keys.
var simpleObjectPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)\{[^{}]*"product"[^{}]*\}`),
	regexp.MustCompile(`(?is)\{[^{}]*"name"[^{}]*"url"[^{}]*\}`),
	regexp.MustCompile(`(?is)\{[^{}]*"title"[^{}]*"link"[^{}]*\}`),
}

// extractInlineScripts is strategy 4: mine script blocks (excluding ld+json,
// which strategy 2 owns) for embedded product JSON.
func (e *Engine) extractInlineScripts(doc *goquery.Document, base *url.URL, maxItems int) []models.ProductRecord {
	var products []models.ProductRecord

	doc.Find("script").EachWithBreak(func(_ int, script *goquery.Selection) bool {
		if script.AttrOr("type", "") == "application/ld+json" {
			return true
		}
		content := script.Text()
		if strings.TrimSpace(content) == "" {
			return true
		}

		products = append(products, productsFromScript(content, base, maxItems-len(products))...)
		return len(products) < maxItems
	})

	if len(products) > maxItems {
		products = products[:maxItems]
	}
	return products
}

func productsFromScript(content string, base *url.URL, maxItems int) []models.ProductRecord {
	if maxItems <= 0 {
		return nil
	}
	var products []models.ProductRecord

	// Whole block may already be JSON (application/json state blobs).
	var data any
	if err := json.Unmarshal([]byte(content), &data); err == nil {
		switch data.(type) {
		case map[string]any, []any:
			walker := &jsonWalker{base: base, budget: maxWalkNodes}
			walker.walk(data, 0)
			products = append(products, walker.products...)
			if len(products) >= maxItems {
				return products[:maxItems]
			}
		}
	}

	for _, pattern := range statePatterns {
		for _, match := range pattern.FindAllStringSubmatch(content, -1) {
			var value any
			if err := json.Unmarshal([]byte(match[1]), &value); err != nil {
				continue
			}
			switch value.(type) {
			case map[string]any, []any:
				walker := &jsonWalker{base: base, budget: maxWalkNodes}
				walker.walk(value, 0)
				products = append(products, walker.products...)
				if len(products) >= maxItems {
					return products[:maxItems]
				}
			}
		}
	}

	// A non-greedy match stops at the first ']' and truncates arrays of
	// objects; re-scan with bracket balancing to recover the whole array.
	if m := arrayKeyRe.FindStringSubmatchIndex(content); m != nil {
		if arrayStr, ok := balancedArray(content, m[1]); ok {
			var items []any
			if err := json.Unmarshal([]byte(arrayStr), &items); err == nil {
				for _, item := range items {
					obj, ok := item.(map[string]any)
					if !ok {
						continue
					}
					if p := productFromMap(obj, base); p != nil && parser.ValidateProduct(p) {
						products = append(products, *p)
						if len(products) >= maxItems {
							return products[:maxItems]
						}
					}
				}
			}
		}
	}

	for _, pattern := range simpleObjectPatterns {
		for _, match := range pattern.FindAllString(content, -1) {
			var obj map[string]any
			if err := json.Unmarshal([]byte(match), &obj); err != nil {
				continue
			}
			if p := productFromMap(obj, base); p != nil && parser.ValidateProduct(p) {
				products = append(products, *p)
				if len(products) >= maxItems {
					return products[:maxItems]
				}
			}
		}
	}

	return products
}

// balancedArray returns the bracket-balanced array starting at the '[' that
// ends at end (the index just past the opening bracket).
func balancedArray(content string, end int) (string, bool) {
	start := end - 1
	if start < 0 || start >= len(content) || content[start] != '[' {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		c := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return content[start : i+1], true
			}
		}
	}
	return "", false
}

// productFromMap maps a generic decoded object onto a record using common
// key aliases.
func productFromMap(data map[string]any, base *url.URL) *models.ProductRecord {
	p := &models.ProductRecord{InStock: true, Currency: parser.DefaultCurrency}
	populated := false

	for _, key := range []string{"name", "title", "productName", "product_name"} {
		if value := stringValue(data[key]); value != "" {
			p.Title = parser.CleanText(value)
			populated = true
			break
		}
	}

	for _, key := range []string{"url", "link", "productUrl", "product_url"} {
		if value := stringValue(data[key]); value != "" {
			p.ProductURL = parser.ResolveURL(base, value)
			populated = true
			break
		}
	}

	for _, key := range []string{"image", "imageUrl", "img", "thumbnail"} {
		if _, present := data[key]; !present {
			continue
		}
		if img := imageValue(data[key]); img != "" && parser.IsLikelyProductImage(img) {
			p.ImageURL = parser.ResolveURL(base, img)
			populated = true
		}
		break
	}

	for _, key := range []string{"price", "cost", "amount"} {
		if _, present := data[key]; !present {
			continue
		}
		text := stringValue(data[key])
		if text == "" {
			if n, ok := data[key].(float64); ok {
				p.Price = n
				p.HasPrice = true
				populated = true
				break
			}
		}
		if price, currency, ok := parser.ParsePrice(text); ok {
			p.Price = price
			p.HasPrice = true
			p.Currency = currency
			populated = true
		}
		break
	}

	if !populated {
		return nil
	}
	return p
}
