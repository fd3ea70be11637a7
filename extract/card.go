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
	bgImageRe = regexp.MustCompile(`background-image:\s*url\(["']?([^"')]+)["']?\)`)
	srcsetRe  = regexp.MustCompile(`([^\s,]+)(?:\s+\d+[wx])?`)
)

// imageAttrs are checked in order of preference on img/source elements.
var imageAttrs = []string{
	"src",
	"data-src",
	"data-lazy-src",
	"data-original",
	"data-image",
	"data-lazy",
	"data-srcset",
	"srcset",
}

// extractCard pulls every field it can from one card subtree. Fields are
// independent; a card may yield a partial record.
func extractCard(card *goquery.Selection, base *url.URL) *models.ProductRecord {
	p := &models.ProductRecord{InStock: true, Currency: parser.DefaultCurrency}
	populated := false

	for _, sel := range titleSelectors {
		elem := card.Find(sel).First()
		if elem.Length() == 0 {
			continue
		}
		text := elem.AttrOr("title", "")
		if text == "" {
			text = elem.Text()
		}
		if title := parser.CleanText(text); title != "" {
			p.Title = title
			populated = true
			break
		}
	}

	for _, sel := range linkSelectors {
		elem := card.Find(sel).First()
		if href, ok := elem.Attr("href"); ok && href != "" {
			p.ProductURL = parser.ResolveURL(base, href)
			populated = true
			break
		}
	}
	if p.ProductURL == "" {
		if href, ok := card.Find("a[href]").First().Attr("href"); ok && href != "" {
			p.ProductURL = parser.ResolveURL(base, href)
			populated = true
		}
	}

	if img := imageFromElement(card, base); img != "" {
		p.ImageURL = img
		populated = true
	}

	for _, sel := range priceSelectors {
		elem := card.Find(sel).First()
		if elem.Length() == 0 {
			continue
		}
		text := elem.AttrOr("content", "")
		if text == "" {
			text = elem.Text()
		}
		if price, currency, ok := parser.ParsePrice(text); ok {
			p.Price = price
			p.HasPrice = true
			p.Currency = currency
			p.PriceRaw = strings.TrimSpace(text)
			populated = true
			break
		}
	}

	for _, sel := range ratingSelectors {
		elem := card.Find(sel).First()
		if elem.Length() == 0 {
			continue
		}
		text := elem.AttrOr("content", "")
		if text == "" {
			text = elem.AttrOr("aria-label", "")
		}
		if text == "" {
			text = elem.Text()
		}
		if rating, ok := parser.ParseRating(text); ok {
			p.Rating = rating
			p.HasRating = true
			populated = true
			break
		}
	}

	for _, sel := range reviewSelectors {
		elem := card.Find(sel).First()
		if elem.Length() == 0 {
			continue
		}
		text := elem.AttrOr("content", "")
		if text == "" {
			text = elem.Text()
		}
		if count, ok := parser.ParseReviewCount(text); ok {
			p.ReviewCount = count
			populated = true
			break
		}
	}

	if elem := card.Find(brandSelector).First(); elem.Length() > 0 {
		text := elem.AttrOr("content", "")
		if text == "" {
			text = elem.Text()
		}
		if brand := parser.CleanText(text); brand != "" {
			p.Brand = brand
			populated = true
		}
	}

	if elem := card.Find(skuSelector).First(); elem.Length() > 0 {
		text := elem.AttrOr("content", "")
		if text == "" {
			text = elem.Text()
		}
		if sku := parser.CleanText(text); sku != "" {
			p.SKU = sku
			populated = true
		}
	}

	if elem := card.Find(stockSelector).First(); elem.Length() > 0 {
		text := elem.AttrOr("content", "")
		if text == "" {
			text = elem.Text()
		}
		lower := strings.ToLower(text)
		p.InStock = strings.Contains(lower, "instock") || strings.Contains(lower, "available")
	}

	if !populated {
		return nil
	}
	return p
}

// imageFromElement hunts for a plausible product image: direct selectors, any
// img in the subtree, up to 3 ancestor levels, siblings, then a
// background-image declaration on the element itself.
func imageFromElement(elem *goquery.Selection, base *url.URL) string {
	if elem == nil || elem.Length() == 0 {
		return ""
	}

	for _, sel := range imageSelectors {
		img := elem.Find(sel).First()
		if img.Length() == 0 {
			continue
		}
		if u := imageURLFromAttrs(img); u != "" {
			return parser.ResolveURL(base, u)
		}
	}

	found := ""
	elem.Find("img").EachWithBreak(func(i int, img *goquery.Selection) bool {
		if i >= 5 {
			return false
		}
		if u := imageURLFromAttrs(img); u != "" && parser.IsLikelyProductImage(u) {
			found = parser.ResolveURL(base, u)
			return false
		}
		return true
	})
	if found != "" {
		return found
	}

	ancestor := elem.Parent()
	for level := 0; level < 3 && ancestor.Length() > 0; level++ {
		ancestor.Find("img").EachWithBreak(func(i int, img *goquery.Selection) bool {
			if i >= 3 {
				return false
			}
			if u := imageURLFromAttrs(img); u != "" && parser.IsLikelyProductImage(u) {
				found = parser.ResolveURL(base, u)
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
		ancestor = ancestor.Parent()
	}

	if parent := elem.Parent(); parent.Length() > 0 {
		parent.ChildrenFiltered("div, li, article").EachWithBreak(func(i int, sibling *goquery.Selection) bool {
			if i >= 5 {
				return false
			}
			sibling.Find("img").EachWithBreak(func(j int, img *goquery.Selection) bool {
				if j >= 2 {
					return false
				}
				if u := imageURLFromAttrs(img); u != "" && parser.IsLikelyProductImage(u) {
					found = parser.ResolveURL(base, u)
					return false
				}
				return true
			})
			return found == ""
		})
		if found != "" {
			return found
		}
	}

	if style, ok := elem.Attr("style"); ok {
		if m := bgImageRe.FindStringSubmatch(style); m != nil && parser.IsLikelyProductImage(m[1]) {
			return parser.ResolveURL(base, m[1])
		}
	}

	return ""
}

// imageURLFromAttrs reads the first populated image attribute, unpacking the
// first candidate from srcset values.
func imageURLFromAttrs(img *goquery.Selection) string {
	if img == nil || img.Length() == 0 {
		return ""
	}
	for _, attr := range imageAttrs {
		value, ok := img.Attr(attr)
		if !ok || value == "" {
			continue
		}
		if attr == "srcset" || attr == "data-srcset" {
			if m := srcsetRe.FindStringSubmatch(value); m != nil {
				return strings.TrimSpace(m[1])
			}
			continue
		}
		return strings.TrimSpace(value)
	}
	return ""
}
