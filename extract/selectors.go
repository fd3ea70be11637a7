package extract

// Ordered selector lists tried first-match-wins. The order encodes priority:
// marketplace-specific selectors before generic ones.

var containerSelectors = []string{
	`[data-component-type="s-search-result"]`,
	`.s-result-list`,
	`.search-result-gridview-items`,
	`#products-grid`,
	`.products`,
	`.product-list`,
	`.results`,
	`[class*="product-grid"]`,
	`[class*="search-results"]`,
	`[data-test*="product"]`,
	`.catalog-grid`,
	`[role="list"]`,
	`.product-base`,
	`.product-tuple`,
	`.productCard`,
	`[class*="productBase"]`,
	`[class*="product-tuple"]`,
	`[class*="jm-product"]`,
	`[class*="product-item"]`,
	`[id*="product"]`,
}

var cardSelectors = []string{
	`[data-component-type="s-search-result"]`,
	`.product-card`,
	`.product-item`,
	`.product-base`,
	`.product-tuple`,
	`[class*="productBase"]`,
	`[class*="product-tuple"]`,
	`[class*="product"]`,
	`[data-product-id]`,
	`[data-sku]`,
	`article`,
	`[itemtype*="Product"]`,
	`[class*="item"]`,
	`[class*="listing"]`,
	`li[class*="product"]`,
	`div[class*="product"]`,
}

var titleSelectors = []string{
	`h2 a`,
	`h3 a`,
	`[class*="title"] a`,
	`[class*="name"] a`,
	`a[title]`,
	`[itemprop="name"]`,
	`[data-title]`,
	`.product-title`,
	`.item-title`,
}

var priceSelectors = []string{
	`[class*="price"]`,
	`[itemprop="price"]`,
	`[data-price]`,
	`span[class*="cost"]`,
	`.price-box`,
	`[class*="amount"]`,
}

var imageSelectors = []string{
	`img[src]`,
	`img[data-src]`,
	`img[data-lazy-src]`,
	`img[data-original]`,
	`img[data-image]`,
	`img[data-lazy]`,
	`[class*="image"] img`,
	`[class*="product-image"] img`,
	`[class*="thumbnail"] img`,
	`picture img`,
	`picture source`,
}

var linkSelectors = []string{
	`a[href*="/product"]`,
	`a[href*="/item"]`,
	`a[href*="/p/"]`,
	`a[href*="/dp/"]`,
	`a[href*="/c/"]`,
	`a[href*="/men-"]`,
	`a[href*="/women-"]`,
	`a[href*="/kids-"]`,
	`a.product-link`,
	`[itemprop="url"]`,
	`a[href*="productId="]`,
	`a[href*="pid="]`,
}

var ratingSelectors = []string{
	`[class*="rating"]`,
	`[itemprop="ratingValue"]`,
	`[data-rating]`,
	`.stars`,
	`[aria-label*="star"]`,
}

var reviewSelectors = []string{
	`[class*="review"]`,
	`[itemprop="reviewCount"]`,
	`[data-review-count]`,
	`.rating-count`,
}

var brandSelector = `[itemprop="brand"], [class*="brand"], [data-brand]`

var skuSelector = `[itemprop="sku"], [data-sku], [data-product-id]`

var stockSelector = `[itemprop="availability"], [class*="stock"], [data-stock]`
