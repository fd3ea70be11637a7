package extract

import "github.com/shopcrawl/go-product-worker/models"

// mergeByURL deduplicates records by product URL. The first record per URL
// wins; later duplicates only fill fields the winner is missing. Records
// without a URL are dropped.
func mergeByURL(products []models.ProductRecord) []models.ProductRecord {
	if len(products) == 0 {
		return products
	}

	index := make(map[string]int, len(products))
	merged := make([]models.ProductRecord, 0, len(products))

	for _, p := range products {
		if p.ProductURL == "" {
			continue
		}
		i, seen := index[p.ProductURL]
		if !seen {
			index[p.ProductURL] = len(merged)
			merged = append(merged, p)
			continue
		}
		fillMissing(&merged[i], p)
	}

	return merged
}

func fillMissing(dst *models.ProductRecord, src models.ProductRecord) {
	if dst.Title == "" {
		dst.Title = src.Title
	}
	if dst.ImageURL == "" {
		dst.ImageURL = src.ImageURL
	}
	if !dst.HasPrice && src.HasPrice {
		dst.Price = src.Price
		dst.HasPrice = true
		dst.Currency = src.Currency
		dst.PriceRaw = src.PriceRaw
	}
	if !dst.HasRating && src.HasRating {
		dst.Rating = src.Rating
		dst.HasRating = true
	}
	if dst.ReviewCount == 0 {
		dst.ReviewCount = src.ReviewCount
	}
	if dst.Brand == "" {
		dst.Brand = src.Brand
	}
	if dst.SKU == "" {
		dst.SKU = src.SKU
	}
	if dst.Description == "" {
		dst.Description = src.Description
	}
}
