package service

import (
	"context"
	"testing"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/apperr"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func validProduct() ProductInput {
	return ProductInput{
		Name:        "Capinha Floral",
		Description: "Capinha de silicone com estampa floral",
		Price:       49.9,
		Stock:       10,
		Category:    "Capinhas",
		Color:       "Rosa",
		Model:       "iPhone 15",
	}
}

func TestCatalog_CreateAndUpdate(t *testing.T) {
	state := newMemState()
	catalog := NewCatalog(memProducts{state}, zap.NewNop())
	ctx := context.Background()

	created, err := catalog.Create(ctx, admin, validProduct())
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "capinha-floral", created.Slug)

	updated, err := catalog.Update(ctx, admin, created.ID, ProductPatch{Name: ptr(" Capinha Azul "), Price: ptr(59.9)})
	require.NoError(t, err)
	assert.Equal(t, "Capinha Azul", updated.Name)
	assert.Equal(t, "capinha-azul", updated.Slug)
	assert.Equal(t, 59.9, updated.Price)
	assert.Equal(t, 10, updated.Stock)

	got, err := catalog.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Capinha Azul", got.Name)

	list, err := catalog.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, catalog.Delete(ctx, admin, created.ID))
	_, err = catalog.Get(ctx, created.ID)
	assert.ErrorIs(t, err, apperr.ErrProductNotFound)
	assert.ErrorIs(t, catalog.Delete(ctx, admin, created.ID), apperr.ErrProductNotFound)
}

func TestCatalog_Validation(t *testing.T) {
	cases := map[string]func(*ProductInput){
		"short name":        func(p *ProductInput) { p.Name = "A" },
		"short description": func(p *ProductInput) { p.Description = "abc" },
		"zero price":        func(p *ProductInput) { p.Price = 0 },
		"negative stock":    func(p *ProductInput) { p.Stock = -1 },
		"blank color":       func(p *ProductInput) { p.Color = "  " },
		"negative weight":   func(p *ProductInput) { p.Weight = ptr(-0.1) },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			state := newMemState()
			catalog := NewCatalog(memProducts{state}, zap.NewNop())
			in := validProduct()
			mutate(&in)

			_, err := catalog.Create(context.Background(), admin, in)
			assert.ErrorIs(t, err, apperr.ErrInvalidInput)
			assert.Empty(t, state.products)
		})
	}
}

func TestCatalog_AdminOnlyWrites(t *testing.T) {
	state := newMemState()
	state.addProduct(models.Product{ID: "p1", Name: "Case", Price: 50, Stock: 5})
	catalog := NewCatalog(memProducts{state}, zap.NewNop())
	ctx := context.Background()

	_, err := catalog.Create(ctx, customer, validProduct())
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = catalog.Update(ctx, customer, "p1", ProductPatch{Price: ptr(1.0)})
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.ErrorIs(t, catalog.Delete(ctx, nobody, "p1"), apperr.ErrNotAuthenticated)
	assert.Equal(t, 50.0, state.products["p1"].Price)
}
