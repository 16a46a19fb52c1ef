package catalog

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

func sampleCatalog() *Catalog {
	deletedAt := time.Now()
	c := NewCatalog()
	c.Replace([]Product{
		{ID: "p1", Name: "Es Teh Manis", SKU: "BEV-001", Price: 5000, CategoryID: "drinks", Kind: KindSimple, StoredStock: 20},
		{ID: "p2", Name: "Kopi Susu", SKU: "BEV-002", Price: 18000, CategoryID: "drinks", Kind: KindSimple, StoredStock: 6},
		{ID: "p3", Name: "Nasi Goreng", SKU: "FOOD-001", Price: 25000, CategoryID: "food", Kind: KindSimple, StoredStock: 2},
		{ID: "p4", Name: "Old Menu", SKU: "OLD-1", Price: 1000, CategoryID: "food", Kind: KindSimple, StoredStock: 50, DeletedAt: &deletedAt},
	}, []Category{{ID: "food", Name: "Food"}, {ID: "drinks", Name: "Drinks"}})
	return c
}

func TestListActiveFilters(t *testing.T) {
	c := sampleCatalog()

	all := c.ListActive(Filter{})
	require.Len(t, all, 3)
	require.Equal(t, "Es Teh Manis", all[0].Name)
	require.Equal(t, StockHigh, all[0].Level)

	require.Len(t, c.ListActive(Filter{CategoryID: AllCategories}), 3)

	drinks := c.ListActive(Filter{CategoryID: "drinks"})
	require.Len(t, drinks, 2)

	byName := c.ListActive(Filter{SearchText: "KOPI"})
	require.Len(t, byName, 1)
	require.Equal(t, "p2", byName[0].ID)
	require.Equal(t, StockMedium, byName[0].Level)

	bySKU := c.ListActive(Filter{SearchText: "food-", CategoryID: "food"})
	require.Len(t, bySKU, 1)
	require.Equal(t, StockLow, bySKU[0].Level)

	require.Empty(t, c.ListActive(Filter{SearchText: "old menu"}))
}

func TestCatalogProductLookups(t *testing.T) {
	c := sampleCatalog()

	stock, err := c.EffectiveStock("p1")
	require.NoError(t, err)
	require.EqualValues(t, 20, stock)

	_, err = c.EffectiveStock("p4")
	require.True(t, errors.Is(err, shared.ErrNotFound))

	_, err = c.Product("missing")
	require.ErrorIs(t, err, shared.ErrNotFound)

	now := time.Now()
	p1, err := c.Product("p1")
	require.NoError(t, err)
	p1.DeletedAt = &now
	c.Put(p1)
	_, ok := c.Lookup("p1")
	require.False(t, ok)

	cats := c.Categories()
	require.Equal(t, []string{"Drinks", "Food"}, []string{cats[0].Name, cats[1].Name})
}
