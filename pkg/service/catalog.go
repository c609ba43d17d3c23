package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/apperr"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/auth"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/models"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/repository"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
)

// ProductInput is a full product for creation.
type ProductInput struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Stock       int      `json:"stock"`
	Image       string   `json:"image"`
	Category    string   `json:"category"`
	Color       string   `json:"color"`
	Model       string   `json:"model"`
	Weight      *float64 `json:"weight"`
	Width       *float64 `json:"width"`
	Height      *float64 `json:"height"`
	Length      *float64 `json:"length"`
}

// ProductPatch holds the fields of a partial edit; absent fields are kept.
type ProductPatch struct {
	Name        *string  `json:"name"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
	Stock       *int     `json:"stock"`
	Image       *string  `json:"image"`
	Category    *string  `json:"category"`
	Color       *string  `json:"color"`
	Model       *string  `json:"model"`
	Weight      *float64 `json:"weight"`
	Width       *float64 `json:"width"`
	Height      *float64 `json:"height"`
	Length      *float64 `json:"length"`
}

type Catalog struct {
	products repository.ProductRepository
	logger   *zap.Logger
}

func NewCatalog(products repository.ProductRepository, logger *zap.Logger) *Catalog {
	return &Catalog{products: products, logger: logger.Named("catalog")}
}

func (c *Catalog) List(ctx context.Context) ([]models.Product, error) {
	products, err := c.products.List(ctx)
	if err != nil {
		return nil, storeErr(err, nil)
	}
	return products, nil
}

func (c *Catalog) Get(ctx context.Context, id string) (*models.Product, error) {
	product, err := c.products.Get(ctx, id)
	if err != nil {
		return nil, storeErr(err, apperr.ErrProductNotFound.Withf("product %s not found", id))
	}
	return product, nil
}

func (c *Catalog) Create(ctx context.Context, caller auth.Caller, in ProductInput) (*models.Product, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}

	p := ProductPatch{
		Name: &in.Name, Description: &in.Description, Price: &in.Price, Stock: &in.Stock,
		Category: &in.Category, Color: &in.Color, Model: &in.Model,
		Weight: in.Weight, Width: in.Width, Height: in.Height, Length: in.Length,
	}
	if err := p.validate(); err != nil {
		return nil, err
	}

	product := &models.Product{
		Name:        strings.TrimSpace(in.Name),
		Slug:        slug.Make(in.Name),
		Description: strings.TrimSpace(in.Description),
		Price:       in.Price,
		Stock:       in.Stock,
		Image:       strings.TrimSpace(in.Image),
		Category:    strings.TrimSpace(in.Category),
		Color:       strings.TrimSpace(in.Color),
		Model:       strings.TrimSpace(in.Model),
		Weight:      in.Weight,
		Width:       in.Width,
		Height:      in.Height,
		Length:      in.Length,
	}
	if err := c.products.Create(ctx, product); err != nil {
		return nil, storeErr(err, nil)
	}

	c.logger.Info("Product created", zap.String("product_id", product.ID), zap.String("slug", product.Slug))
	return product, nil
}

func (c *Catalog) Update(ctx context.Context, caller auth.Caller, id string, patch ProductPatch) (*models.Product, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, apperr.ErrInvalidInput.Withf("product id is required")
	}
	if err := patch.validate(); err != nil {
		return nil, err
	}

	update := repository.ProductUpdate{
		Name: trimmed(patch.Name), Description: trimmed(patch.Description),
		Price: patch.Price, Stock: patch.Stock, Image: trimmed(patch.Image),
		Category: trimmed(patch.Category), Color: trimmed(patch.Color), Model: trimmed(patch.Model),
		Weight: patch.Weight, Width: patch.Width, Height: patch.Height, Length: patch.Length,
	}
	if patch.Name != nil {
		s := slug.Make(*patch.Name)
		update.Slug = &s
	}

	product, err := c.products.Update(ctx, id, update)
	if err != nil {
		return nil, storeErr(err, apperr.ErrProductNotFound.Withf("product %s not found", id))
	}

	c.logger.Info("Product updated", zap.String("product_id", id))
	return product, nil
}

func (c *Catalog) Delete(ctx context.Context, caller auth.Caller, id string) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}
	if id == "" {
		return apperr.ErrInvalidInput.Withf("product id is required")
	}
	if err := c.products.Delete(ctx, id); err != nil {
		return storeErr(err, apperr.ErrProductNotFound.Withf("product %s not found", id))
	}

	c.logger.Info("Product deleted", zap.String("product_id", id))
	return nil
}

func (p *ProductPatch) validate() error {
	minLen := func(field string, v *string, n int) error {
		if v != nil && utf8.RuneCountInString(strings.TrimSpace(*v)) < n {
			return apperr.ErrInvalidInput.Withf("%s must have at least %d characters", field, n)
		}
		return nil
	}

	for _, check := range []error{
		minLen("name", p.Name, 2),
		minLen("description", p.Description, 5),
		minLen("category", p.Category, 2),
		minLen("color", p.Color, 2),
		minLen("model", p.Model, 2),
	} {
		if check != nil {
			return check
		}
	}

	if p.Price != nil && *p.Price <= 0 {
		return apperr.ErrInvalidInput.Withf("price must be greater than zero")
	}
	if p.Stock != nil && *p.Stock < 0 {
		return apperr.ErrInvalidInput.Withf("stock cannot be negative")
	}
	for _, d := range []*float64{p.Weight, p.Width, p.Height, p.Length} {
		if d != nil && *d < 0 {
			return apperr.ErrInvalidInput.Withf("dimensions cannot be negative")
		}
	}
	return nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	t := strings.TrimSpace(*s)
	return &t
}
