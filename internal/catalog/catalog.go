// Package catalog provides the product catalog the service answers
// questions about. The default implementation is a static catalog loaded
// from a YAML file; a storefront integration can swap in its own Catalog.
package catalog

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Product is one catalog entry.
type Product struct {
	// ID is the external product identifier, shared with the review feed.
	ID int64 `yaml:"id" json:"id"`
	// Title is the display name.
	Title string `yaml:"title" json:"title"`
	// Description is the product description shown to shoppers.
	Description string `yaml:"description" json:"description"`
}

// Catalog lists the products the service knows about.
type Catalog interface {
	// Products returns all products.
	Products(ctx context.Context) ([]Product, error)
	// Product returns one product by id.
	Product(ctx context.Context, id int64) (Product, error)
}

// ErrNotFound is returned for an unknown product id.
var ErrNotFound = fmt.Errorf("catalog: product not found")

// Static is an in-memory Catalog. Immutable after construction, safe for
// concurrent use.
type Static struct {
	products []Product
	byID     map[int64]Product
}

// NewStatic constructs a Static catalog from the given products.
func NewStatic(products []Product) *Static {
	byID := make(map[int64]Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &Static{products: products, byID: byID}
}

// catalogFile is the YAML file shape.
type catalogFile struct {
	Products []Product `yaml:"products"`
}

// LoadFile reads a static catalog from a YAML file:
//
//	products:
//	  - id: 101
//	    title: "Trail Jacket"
//	    description: "Lightweight waterproof shell."
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return NewStatic(f.Products), nil
}

// Products implements Catalog.
func (s *Static) Products(_ context.Context) ([]Product, error) {
	out := make([]Product, len(s.products))
	copy(out, s.products)
	return out, nil
}

// Product implements Catalog.
func (s *Static) Product(_ context.Context, id int64) (Product, error) {
	p, ok := s.byID[id]
	if !ok {
		return Product{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return p, nil
}
