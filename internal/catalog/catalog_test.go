package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	yaml := `products:
  - id: 101
    title: "Trail Jacket"
    description: "Lightweight waterproof shell."
  - id: 102
    title: "Wool Beanie"
    description: "Merino, one size."
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cat, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	products, err := cat.Products(context.Background())
	if err != nil {
		t.Fatalf("Products() error = %v", err)
	}
	if len(products) != 2 || products[0].Title != "Trail Jacket" {
		t.Fatalf("products = %+v", products)
	}

	p, err := cat.Product(context.Background(), 102)
	if err != nil {
		t.Fatalf("Product(102) error = %v", err)
	}
	if p.Title != "Wool Beanie" {
		t.Errorf("Title = %q", p.Title)
	}

	_, err = cat.Product(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Product(999) error = %v, want ErrNotFound", err)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing file: error = nil, want error")
	}
}
