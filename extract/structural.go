package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopcrawl/go-product-worker/models"
	"github.com/shopcrawl/go-product-worker/parser"
)

// extractStructural is strategy 1: locate a result container through the
// ordered container selectors, then cards within it through the ordered card
// selectors, falling back to a scan for div/li/article nodes holding both an
// image and a real link.
func (e *Engine) extractStructural(doc *goquery.Document, base *url.URL, maxItems int) []models.ProductRecord {
	var containers []*goquery.Selection
	for _, sel := range containerSelectors {
		if found := doc.Find(sel); found.Length() > 0 {
			found.Each(func(_ int, c *goquery.Selection) {
				containers = append(containers, c)
			})
			break
		}
	}
	if len(containers) == 0 {
		body := doc.Find("body")
		if body.Length() == 0 {
			body = doc.Selection
		}
		containers = []*goquery.Selection{body}
	}

	var products []models.ProductRecord
	for _, container := range containers {
		var cards []*goquery.Selection
		for _, sel := range cardSelectors {
			found := container.Find(sel)
			if found.Length() >= 1 {
				found.Each(func(_ int, card *goquery.Selection) {
					cards = append(cards, card)
				})
				break
			}
		}

		if len(cards) == 0 {
			cards = scanCandidateCards(container, maxItems*2)
		}

		if len(cards) > maxItems {
			cards = cards[:maxItems]
		}
		for _, card := range cards {
			product := extractCard(card, base)
			if product != nil && parser.ValidateProduct(product) {
				products = append(products, *product)
				if len(products) >= maxItems {
					break
				}
			}
		}

		if len(products) > 0 {
			break
		}
	}

	return products
}

// scanCandidateCards finds div/li/article elements containing both an image
// and a non-javascript link.
func scanCandidateCards(container *goquery.Selection, limit int) []*goquery.Selection {
	var cards []*goquery.Selection
	container.Find("div, li, article").EachWithBreak(func(_ int, elem *goquery.Selection) bool {
		if elem.Find("img").Length() == 0 {
			return true
		}
		link := elem.Find("a[href]").First()
		if link.Length() == 0 {
			return true
		}
		href := link.AttrOr("href", "")
		if href == "" || href == "#" || strings.HasPrefix(href, "javascript:") {
			return true
		}
		cards = append(cards, elem)
		return len(cards) < limit
	})
	return cards
}
