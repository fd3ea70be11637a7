package extract

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopcrawl/go-product-worker/models"
	"github.com/shopcrawl/go-product-worker/parser"
)

// Bounds on linked-data walking. Untrusted pages can embed deeply nested or
// enormous JSON; the walker stops at these limits rather than recursing
// without bound.
const (
	maxWalkDepth = 12
	maxWalkNodes = 10000
)

// extractJSONLD is strategy 2: parse every ld+json block and walk it for
// objects typed as Product or carrying product-like name/url pairs.
func (e *Engine) extractJSONLD(doc *goquery.Document, base *url.URL, maxItems int) []models.ProductRecord {
	var products []models.ProductRecord

	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, script *goquery.Selection) bool {
		raw := strings.TrimSpace(script.Text())
		if raw == "" {
			return true
		}
		var data any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return true
		}
		walker := &jsonWalker{base: base, budget: maxWalkNodes}
		walker.walk(data, 0)
		products = append(products, walker.products...)
		return len(products) < maxItems
	})

	if len(products) > maxItems {
		products = products[:maxItems]
	}
	return products
}

// jsonWalker recursively collects product objects from arbitrary decoded
// JSON, honoring depth and node budgets so adversarial input terminates.
type jsonWalker struct {
	base     *url.URL
	budget   int
	products []models.ProductRecord
}

func (w *jsonWalker) walk(data any, depth int) {
	if depth > maxWalkDepth || w.budget <= 0 {
		return
	}
	w.budget--

	switch node := data.(type) {
	case map[string]any:
		w.walkObject(node, depth)
	case []any:
		for _, item := range node {
			w.walk(item, depth+1)
		}
	}
	// Scalars carry no product data.
}

func (w *jsonWalker) walkObject(node map[string]any, depth int) {
	handledList := false
	if typeString(node["@type"]) == "ItemList" {
		if items, ok := node["itemListElement"].([]any); ok {
			handledList = true
			for _, entry := range items {
				item, ok := entry.(map[string]any)
				if !ok {
					continue
				}
				// ItemList entries usually nest the product under "item".
				productData, hasNested := item["item"].(map[string]any)
				if !hasNested {
					productData = item
				}
				if looksLikeProduct(productData) {
					if p := parseJSONLDProduct(productData, w.base); p != nil {
						w.products = append(w.products, *p)
					}
				}
				if hasNested && looksLikeProduct(item) {
					if p := parseJSONLDProduct(item, w.base); p != nil {
						w.products = append(w.products, *p)
					}
				}
			}
		}
	}

	if strings.Contains(typeString(node["@type"]), "Product") {
		if p := parseJSONLDProduct(node, w.base); p != nil {
			w.products = append(w.products, *p)
		}
	}

	for key, value := range node {
		if handledList && key == "itemListElement" {
			continue
		}
		switch value.(type) {
		case map[string]any, []any:
			w.walk(value, depth+1)
		}
	}
}

func looksLikeProduct(node map[string]any) bool {
	if node == nil {
		return false
	}
	if strings.Contains(typeString(node["@type"]), "Product") {
		return true
	}
	_, hasName := node["name"]
	_, hasURL := node["url"]
	return hasName || hasURL
}

func typeString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ",")
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// parseJSONLDProduct maps one schema.org Product object onto a record,
// tolerating the string/list/object variants seen in the wild.
func parseJSONLDProduct(data map[string]any, base *url.URL) *models.ProductRecord {
	p := &models.ProductRecord{InStock: true, Currency: parser.DefaultCurrency}

	p.Title = parser.CleanText(stringValue(data["name"]))
	if p.Title == "" {
		return nil
	}

	if u := stringValue(data["url"]); u != "" {
		p.ProductURL = parser.ResolveURL(base, u)
	}

	image := imageValue(data["image"])
	if image == "" {
		for _, key := range []string{"imageUrl", "imageURL", "thumbnail", "thumbnailUrl"} {
			if image = imageValue(data[key]); image != "" {
				break
			}
		}
	}
	if image != "" && parser.IsLikelyProductImage(image) {
		p.ImageURL = parser.ResolveURL(base, image)
	}

	offers := offersObject(data["offers"])
	if offers != nil {
		priceValue := offers["price"]
		if priceValue == nil {
			priceValue = offers["lowPrice"]
		}
		if price, ok := numberValue(priceValue); ok {
			p.Price = price
			p.HasPrice = true
			if c := stringValue(offers["priceCurrency"]); c != "" {
				p.Currency = c
			}
		}
		if availability := stringValue(offers["availability"]); availability != "" {
			p.InStock = strings.Contains(availability, "InStock")
		}
	}

	if rating, ok := data["aggregateRating"].(map[string]any); ok {
		if value, ok := numberValue(rating["ratingValue"]); ok {
			p.Rating = value
			p.HasRating = true
		}
		count := rating["reviewCount"]
		if count == nil {
			count = rating["ratingCount"]
		}
		if value, ok := numberValue(count); ok {
			p.ReviewCount = int(value)
		}
	}

	switch brand := data["brand"].(type) {
	case map[string]any:
		p.Brand = stringValue(brand["name"])
	case string:
		p.Brand = brand
	}

	if sku := stringValue(data["sku"]); sku != "" {
		p.SKU = sku
	}

	return p
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strings.TrimSuffix(fmt.Sprintf("%v", t), ".0")
	case nil:
		return ""
	default:
		return ""
	}
}

func numberValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		price, _, ok := parser.ParsePrice(t)
		return price, ok
	default:
		return 0, false
	}
}

// imageValue unpacks the string / list / object shapes schema.org image
// fields come in.
func imageValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		for _, item := range t {
			if s := imageValue(item); s != "" {
				return s
			}
		}
	case map[string]any:
		for _, key := range []string{"url", "src", "@id", "contentUrl"} {
			if s, ok := t[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func offersObject(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case []any:
		if len(t) > 0 {
			if first, ok := t[0].(map[string]any); ok {
				return first
			}
		}
	}
	return nil
}

// extractMicrodata is strategy 3: elements whose itemtype mentions Product,
// with name/url/image/price pulled from itemprop sub-elements.
func (e *Engine) extractMicrodata(doc *goquery.Document, base *url.URL, maxItems int) []models.ProductRecord {
	var products []models.ProductRecord

	doc.Find("[itemtype]").EachWithBreak(func(_ int, elem *goquery.Selection) bool {
		itemType := elem.AttrOr("itemtype", "")
		if !strings.Contains(strings.ToLower(itemType), "product") {
			return true
		}

		p := &models.ProductRecord{InStock: true, Currency: parser.DefaultCurrency}

		if name := elem.Find(`[itemprop="name"]`).First(); name.Length() > 0 {
			text := name.AttrOr("content", "")
			if text == "" {
				text = name.Text()
			}
			p.Title = parser.CleanText(text)
		}

		if link := elem.Find(`[itemprop="url"]`).First(); link.Length() > 0 {
			ref := link.AttrOr("href", "")
			if ref == "" {
				ref = link.AttrOr("content", "")
			}
			if ref != "" {
				p.ProductURL = parser.ResolveURL(base, ref)
			}
		}

		if img := elem.Find(`[itemprop="image"]`).First(); img.Length() > 0 {
			u := imageURLFromAttrs(img)
			if u == "" {
				u = img.AttrOr("content", "")
			}
			if u == "" {
				u = img.AttrOr("href", "")
			}
			if u != "" && parser.IsLikelyProductImage(u) {
				p.ImageURL = parser.ResolveURL(base, u)
			}
		}
		if p.ImageURL == "" {
			p.ImageURL = imageFromElement(elem, base)
		}

		if price := elem.Find(`[itemprop="price"]`).First(); price.Length() > 0 {
			text := price.AttrOr("content", "")
			if text == "" {
				text = price.Text()
			}
			if value, currency, ok := parser.ParsePrice(text); ok {
				p.Price = value
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
