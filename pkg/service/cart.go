package service

import (
	"context"

	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/apperr"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/auth"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/models"
	"github.com/GilAlvesOliveira/memimei-caseshop/pkg/repository"
	"go.uber.org/zap"
)

// CartLine is a cart entry joined with the product's current fields.
// Product is nil when the product no longer exists.
type CartLine struct {
	ProductID string          `json:"productId"`
	Quantity  int             `json:"quantity"`
	Product   *models.Product `json:"product,omitempty"`
}

type CartService struct {
	carts    repository.CartRepository
	products repository.ProductRepository
	logger   *zap.Logger
}

func NewCartService(carts repository.CartRepository, products repository.ProductRepository, logger *zap.Logger) *CartService {
	return &CartService{carts: carts, products: products, logger: logger.Named("cart")}
}

func (s *CartService) Get(ctx context.Context, caller auth.Caller) ([]CartLine, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}

	cart, err := s.carts.Get(ctx, caller.ID)
	if err != nil {
		return nil, storeErr(err, nil)
	}

	lines := make([]CartLine, 0, len(cart.Items))
	if len(cart.Items) == 0 {
		return lines, nil
	}

	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.products.GetMany(ctx, uniqueStrings(ids))
	if err != nil {
		return nil, storeErr(err, nil)
	}
	byID := make(map[string]*models.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}

	for _, item := range cart.Items {
		lines = append(lines, CartLine{ProductID: item.ProductID, Quantity: item.Quantity, Product: byID[item.ProductID]})
	}
	return lines, nil
}

// Add merges quantity into the caller's line for the product, creating the
// cart on first use.
func (s *CartService) Add(ctx context.Context, caller auth.Caller, productID string, quantity int) error {
	if err := requireCaller(caller); err != nil {
		return err
	}
	if productID == "" || quantity <= 0 {
		return apperr.ErrInvalidInput.Withf("productId and a positive quantity are required")
	}

	if _, err := s.products.Get(ctx, productID); err != nil {
		return storeErr(err, apperr.ErrProductNotFound.Withf("product %s not found", productID))
	}

	if err := s.carts.AddItem(ctx, caller.ID, productID, quantity); err != nil {
		return storeErr(err, nil)
	}

	s.logger.Debug("Cart item added",
		zap.String("user_id", caller.ID),
		zap.String("product_id", productID),
		zap.Int("quantity", quantity))
	return nil
}
