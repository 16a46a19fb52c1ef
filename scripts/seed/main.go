package main

import (
	"context"
	"fmt"
	"log"
	"maps"
	"slices"
	"time"

	"github.com/joho/godotenv"

	"github.com/odyssey-erp/odyssey-pos/internal/app"
	"github.com/odyssey-erp/odyssey-pos/internal/catalog"
)

const actor = "seed"

type seedProduct struct {
	name     string
	sku      string
	price    int64
	category string
	kind     catalog.Kind
	stock    int64
	recipe   map[string]int64
}

var categories = []catalog.Category{
	{ID: "drinks", Name: "Minuman"},
	{ID: "food", Name: "Makanan"},
	{ID: "snacks", Name: "Camilan"},
	{ID: "ingredients", Name: "Bahan Baku"},
}

// Ingredients come first so recipes can reference them by SKU.
var products = []seedProduct{
	{name: "Biji Kopi (gram)", sku: "RM-COFFEE", category: "ingredients", kind: catalog.KindRawMaterial, stock: 2000},
	{name: "Susu Segar (ml)", sku: "RM-MILK", category: "ingredients", kind: catalog.KindRawMaterial, stock: 5000},
	{name: "Gula Aren (ml)", sku: "RM-PALM", category: "ingredients", kind: catalog.KindRawMaterial, stock: 800},
	{name: "Teh Melati (gram)", sku: "RM-TEA", category: "ingredients", kind: catalog.KindRawMaterial, stock: 500},
	{name: "Kopi Susu Gula Aren", sku: "DR-KSGA", price: 22000, category: "drinks", kind: catalog.KindDerived,
		recipe: map[string]int64{"RM-COFFEE": 18, "RM-MILK": 150, "RM-PALM": 30}},
	{name: "Americano", sku: "DR-AMER", price: 18000, category: "drinks", kind: catalog.KindDerived,
		recipe: map[string]int64{"RM-COFFEE": 18}},
	{name: "Cafe Latte", sku: "DR-LATTE", price: 25000, category: "drinks", kind: catalog.KindDerived,
		recipe: map[string]int64{"RM-COFFEE": 18, "RM-MILK": 200}},
	{name: "Es Teh Manis", sku: "DR-TEH", price: 8000, category: "drinks", kind: catalog.KindDerived,
		recipe: map[string]int64{"RM-TEA": 5, "RM-PALM": 15}},
	{name: "Air Mineral", sku: "DR-AIR", price: 5000, category: "drinks", kind: catalog.KindSimple, stock: 48},
	{name: "Nasi Goreng Spesial", sku: "FD-NASGOR", price: 30000, category: "food", kind: catalog.KindSimple, stock: 20},
	{name: "Mie Goreng", sku: "FD-MIE", price: 25000, category: "food", kind: catalog.KindSimple, stock: 20},
	{name: "Roti Bakar Cokelat", sku: "SN-ROTI", price: 15000, category: "snacks", kind: catalog.KindSimple, stock: 12},
	{name: "Kentang Goreng", sku: "SN-FRIES", price: 18000, category: "snacks", kind: catalog.KindSimple, stock: 4},
	{name: "Pisang Goreng", sku: "SN-PISANG", price: 12000, category: "snacks", kind: catalog.KindSimple, stock: 0},
}

func main() {
	_ = godotenv.Load()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)
	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer backend.Close()

	service := catalog.NewService(backend.Catalog, nil, backend.Audit, nil, catalog.ServiceConfig{}, logger)
	if err := service.Reload(ctx); err != nil {
		log.Fatalf("load catalog: %v", err)
	}

	fmt.Println("→ Seeding categories...")
	for _, c := range categories {
		if _, err := service.UpsertCategory(ctx, c, actor); err != nil {
			log.Fatalf("seed category %s: %v", c.ID, err)
		}
	}

	fmt.Println("→ Seeding products...")
	existing := make(map[string]string)
	for _, l := range service.ListActive(catalog.Filter{}) {
		existing[l.SKU] = l.ID
	}
	for _, sp := range products {
		p := catalog.Product{
			ID:          existing[sp.sku],
			Name:        sp.name,
			SKU:         sp.sku,
			Price:       sp.price,
			CategoryID:  sp.category,
			Kind:        sp.kind,
			StoredStock: sp.stock,
		}
		for _, sku := range slices.Sorted(maps.Keys(sp.recipe)) {
			id, ok := existing[sku]
			if !ok {
				log.Fatalf("seed %s: component %s not seeded", sp.sku, sku)
			}
			p.Recipe = append(p.Recipe, catalog.RecipeComponent{ProductID: id, QuantityPerUnit: sp.recipe[sku]})
		}
		saved, err := service.UpsertProduct(ctx, p, actor)
		if err != nil {
			log.Fatalf("seed product %s: %v", sp.sku, err)
		}
		existing[saved.SKU] = saved.ID
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}
