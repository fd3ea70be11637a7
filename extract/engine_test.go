package extract

import (
	"fmt"
	"strings"
	"testing"

	"github.com/shopcrawl/go-product-worker/models"
)

const baseURL = "https://shop.example.com/catalog"

func structuralPage(n int) string {
	var b strings.Builder
	b.WriteString(`<html><body><div class="products">`)
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `
			<div class="product-card">
				<h3><a href="/p/%d" title="Product %d">Product %d</a></h3>
				<img src="https://cdn.example.com/images/%d.jpg">
				<span class="price">$%d.99</span>
				<span class="rating" aria-label="4.%d out of 5 stars">4.%d</span>
				<span class="review-count">(%d0 reviews)</span>
			</div>`, i, i, i, i, i+10, i, i, i)
	}
	b.WriteString(`</div></body></html>`)
	return b.String()
}

func TestExtractStructuralWins(t *testing.T) {
	engine := NewEngine(100, nil)
	result := engine.Extract(structuralPage(5), baseURL)

	if !result.Success {
		t.Fatalf("Extract() success = false, error = %q", result.Error)
	}
	if result.StrategyUsed != models.StrategyStructural {
		t.Fatalf("strategy = %q, want %q", result.StrategyUsed, models.StrategyStructural)
	}
	if result.NumProducts != 5 {
		t.Fatalf("num products = %d, want 5", result.NumProducts)
	}
	if result.Platform != "shop" {
		t.Errorf("platform = %q, want %q", result.Platform, "shop")
	}

	first := result.Products[0]
	if first.Title != "Product 1" {
		t.Errorf("title = %q, want %q", first.Title, "Product 1")
	}
	if first.ProductURL != "https://shop.example.com/p/1" {
		t.Errorf("url = %q, want resolved absolute url", first.ProductURL)
	}
	if !first.HasPrice || first.Price != 11.99 || first.Currency != "USD" {
		t.Errorf("price = (%v, %q, %v), want (11.99, USD, true)", first.Price, first.Currency, first.HasPrice)
	}
	if !first.HasRating || first.Rating != 4.1 {
		t.Errorf("rating = (%v, %v), want (4.1, true)", first.Rating, first.HasRating)
	}
}

func TestExtractJSONLDPreferredOverWeakStructural(t *testing.T) {
	// Two structural cards (<3, so structural only becomes a candidate)
	// against a JSON-LD ItemList with four products: linked data must win.
	page := `<html><head>
		<script type="application/ld+json">
		{
			"@context": "https://schema.org",
			"@type": "ItemList",
			"itemListElement": [
				{"@type": "ListItem", "position": 1, "item": {"@type": "Product", "name": "Alpha Shoe", "url": "/p/alpha", "image": "https://cdn.example.com/alpha.jpg", "offers": {"price": "49.99", "priceCurrency": "USD", "availability": "https://schema.org/InStock"}}},
				{"@type": "ListItem", "position": 2, "item": {"@type": "Product", "name": "Beta Shoe", "url": "/p/beta", "offers": {"price": 59.5, "priceCurrency": "EUR"}}},
				{"@type": "ListItem", "position": 3, "item": {"@type": "Product", "name": "Gamma Shoe", "url": "/p/gamma"}},
				{"@type": "ListItem", "position": 4, "item": {"@type": "Product", "name": "Delta Shoe", "url": "/p/delta", "aggregateRating": {"ratingValue": 4.4, "reviewCount": 120}}}
			]
		}
		</script>
	</head><body>
		<div class="products">
			<div class="product-card"><h3><a href="/p/one">Card One</a></h3><span class="price">$5</span></div>
			<div class="product-card"><h3><a href="/p/two">Card Two</a></h3><span class="price">$6</span></div>
		</div>
	</body></html>`

	engine := NewEngine(100, nil)
	result := engine.Extract(page, baseURL)

	if result.StrategyUsed != models.StrategyJSONLD {
		t.Fatalf("strategy = %q, want %q", result.StrategyUsed, models.StrategyJSONLD)
	}
	if result.NumProducts != 4 {
		t.Fatalf("num products = %d, want 4", result.NumProducts)
	}

	byURL := make(map[string]models.ProductRecord)
	for _, p := range result.Products {
		byURL[p.ProductURL] = p
	}
	alpha := byURL["https://shop.example.com/p/alpha"]
	if alpha.Title != "Alpha Shoe" || !alpha.HasPrice || alpha.Price != 49.99 || !alpha.InStock {
		t.Errorf("alpha = %+v, want title/price/in-stock populated", alpha)
	}
	delta := byURL["https://shop.example.com/p/delta"]
	if !delta.HasRating || delta.Rating != 4.4 || delta.ReviewCount != 120 {
		t.Errorf("delta rating = (%v, %d), want (4.4, 120)", delta.Rating, delta.ReviewCount)
	}
}

func TestExtractMicrodata(t *testing.T) {
	// Names and prices live in content attributes only, so the structural
	// card extractor comes up empty and the cascade falls through.
	page := `<html><body>
		<div itemscope itemtype="https://schema.org/Product">
			<meta itemprop="name" content="Widget One">
			<link itemprop="url" href="/p/w1">
			<meta itemprop="price" content="19.99">
		</div>
		<div itemscope itemtype="https://schema.org/Product">
			<meta itemprop="name" content="Widget Two">
			<link itemprop="url" href="/p/w2">
			<meta itemprop="price" content="29.99">
		</div>
		<div itemscope itemtype="https://schema.org/Product">
			<meta itemprop="name" content="Widget Three">
			<link itemprop="url" href="/p/w3">
			<meta itemprop="price" content="39.99">
		</div>
	</body></html>`

	engine := NewEngine(100, nil)
	result := engine.Extract(page, baseURL)

	if result.StrategyUsed != models.StrategyMicrodata {
		t.Fatalf("strategy = %q, want %q", result.StrategyUsed, models.StrategyMicrodata)
	}
	if result.NumProducts != 3 {
		t.Fatalf("num products = %d, want 3", result.NumProducts)
	}
	if p := result.Products[0]; !p.HasPrice || p.Price != 19.99 {
		t.Errorf("first price = (%v, %v), want (19.99, true)", p.Price, p.HasPrice)
	}
}

func TestExtractMaxItemsCap(t *testing.T) {
	engine := NewEngine(3, nil)
	result := engine.Extract(structuralPage(8), baseURL)

	if result.NumProducts != 3 {
		t.Fatalf("num products = %d, want capped at 3", result.NumProducts)
	}
}

func TestExtractNoDuplicateURLs(t *testing.T) {
	// Same product repeated under two cards with complementary fields.
	page := `<html><body><div class="products">
		<div class="product-card">
			<h3><a href="/p/1" title="Running Shoes">Running Shoes</a></h3>
			<span class="price">$49.99</span>
		</div>
		<div class="product-card">
			<h3><a href="/p/1" title="Running Shoes">Running Shoes</a></h3>
			<img src="https://cdn.example.com/images/1.jpg">
			<span class="rating">4.5</span>
			<span class="price">$49.99</span>
		</div>
		<div class="product-card">
			<h3><a href="/p/2" title="Trail Shoes">Trail Shoes</a></h3>
			<span class="price">$59.99</span>
		</div>
		<div class="product-card">
			<h3><a href="/p/3" title="Road Shoes">Road Shoes</a></h3>
			<span class="price">$69.99</span>
		</div>
	</div></body></html>`

	engine := NewEngine(100, nil)
	result := engine.Extract(page, baseURL)

	seen := make(map[string]bool)
	for _, p := range result.Products {
		if p.ProductURL == "" {
			continue
		}
		if seen[p.ProductURL] {
			t.Fatalf("duplicate url %q in result", p.ProductURL)
		}
		seen[p.ProductURL] = true
	}
	if result.NumProducts != 3 {
		t.Fatalf("num products = %d, want 3 after dedup", result.NumProducts)
	}

	// Merge must have filled the image and rating from the second card while
	// keeping the first record's fields.
	var merged models.ProductRecord
	for _, p := range result.Products {
		if p.ProductURL == "https://shop.example.com/p/1" {
			merged = p
		}
	}
	if merged.ImageURL == "" {
		t.Errorf("merged record missing image_url")
	}
	if merged.Title != "Running Shoes" {
		t.Errorf("merged title = %q, want first record's title", merged.Title)
	}
}

func TestExtractIdempotent(t *testing.T) {
	page := structuralPage(4)
	engine := NewEngine(100, nil)

	first := engine.Extract(page, baseURL)
	second := engine.Extract(page, baseURL)

	if first.StrategyUsed != second.StrategyUsed {
		t.Fatalf("strategy differs across runs: %q vs %q", first.StrategyUsed, second.StrategyUsed)
	}
	if len(first.Products) != len(second.Products) {
		t.Fatalf("product count differs: %d vs %d", len(first.Products), len(second.Products))
	}
	for i := range first.Products {
		if first.Products[i] != second.Products[i] {
			t.Fatalf("product %d differs across runs:\n%+v\n%+v", i, first.Products[i], second.Products[i])
		}
	}
}

func TestExtractErrorPage(t *testing.T) {
	page := `<html><body><h1>403 ERROR</h1><p>Request blocked. CloudFront</p></body></html>`

	engine := NewEngine(100, nil)
	result := engine.Extract(page, baseURL)

	if result.Success {
		t.Fatalf("error page extraction succeeded unexpectedly")
	}
	if result.Error == "" {
		t.Fatalf("expected explanatory error for error page")
	}
	if result.NumProducts != 0 {
		t.Fatalf("num products = %d, want 0", result.NumProducts)
	}
}

func TestExtractEmptyDocument(t *testing.T) {
	engine := NewEngine(100, nil)
	result := engine.Extract("<html><body><p>hello world, welcome to this page</p></body></html>", baseURL)

	if result.Success {
		t.Fatalf("empty page extraction succeeded unexpectedly")
	}
	if result.StrategyUsed != models.StrategyNone {
		t.Fatalf("strategy = %q, want %q", result.StrategyUsed, models.StrategyNone)
	}
	if result.Error == "" {
		t.Fatalf("expected explanatory error for empty page")
	}
}

func TestExtractMalformedJSONLDSkipped(t *testing.T) {
	// Broken ld+json and a scalar ld+json must not abort the cascade.
	page := `<html><head>
		<script type="application/ld+json">{not json at all</script>
		<script type="application/ld+json">42</script>
	</head><body><div class="products">` +
		`<div class="product-card"><h3><a href="/p/1" title="A Product">A Product</a></h3><span class="price">$9</span></div>` +
		`<div class="product-card"><h3><a href="/p/2" title="B Product">B Product</a></h3><span class="price">$8</span></div>` +
		`<div class="product-card"><h3><a href="/p/3" title="C Product">C Product</a></h3><span class="price">$7</span></div>` +
		`</div></body></html>`

	engine := NewEngine(100, nil)
	result := engine.Extract(page, baseURL)

	if !result.Success {
		t.Fatalf("Extract() success = false, error = %q", result.Error)
	}
	if result.NumProducts != 3 {
		t.Fatalf("num products = %d, want 3", result.NumProducts)
	}
}
