package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/TheMichaelB/shopsync/internal/events"
	"github.com/TheMichaelB/shopsync/internal/models"
	"github.com/TheMichaelB/shopsync/internal/transport"
)

// Fetcher retrieves product metadata from the inventory service.
type Fetcher interface {
	Product(ctx context.Context, instanceID string, productID int) (*models.Product, error)
}

type productKey struct {
	instanceID string
	productID  int
}

// Service caches product metadata used to build optimistic items.
type Service struct {
	fetcher Fetcher
	logger  *events.Logger

	// Cache
	mu       sync.RWMutex
	products map[productKey]models.Product
}

var _ Fetcher = (*transport.HTTPClient)(nil)

// NewService creates a catalog service.
func NewService(fetcher Fetcher, logger *events.Logger) *Service {
	return &Service{
		fetcher:  fetcher,
		logger:   logger.WithField("service", "catalog"),
		products: make(map[productKey]models.Product),
	}
}

// Cached returns product metadata without any network call.
func (s *Service) Cached(instanceID string, productID int) (*models.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[productKey{instanceID, productID}]
	if !ok {
		return nil, false
	}
	return &p, true
}

// Lookup returns product metadata, fetching it when it is not cached.
func (s *Service) Lookup(ctx context.Context, instanceID string, productID int) (*models.Product, error) {
	if p, ok := s.Cached(instanceID, productID); ok {
		return p, nil
	}

	s.logger.WithFields(map[string]interface{}{
		"instance_id": instanceID,
		"product_id":  productID,
	}).Debug("Fetching product")

	p, err := s.fetcher.Product(ctx, instanceID, productID)
	if err != nil {
		return nil, fmt.Errorf("get product %d: %w", productID, err)
	}

	s.Remember(instanceID, *p)
	return p, nil
}

// Remember caches product metadata.
func (s *Service) Remember(instanceID string, p models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[productKey{instanceID, p.ID}] = p
}

// Observe learns product metadata from the items of a list, so products
// seen once can be added again while offline. Entries fetched from the
// catalog are kept.
func (s *Service) Observe(list *models.ShoppingList) {
	if list == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range list.Items {
		key := productKey{list.InstanceID, item.ProductID}
		if _, ok := s.products[key]; ok {
			continue
		}
		s.products[key] = models.Product{
			ID:           item.ProductID,
			Name:         item.ProductName,
			GroupName:    item.ProductGroupName,
			LocationID:   item.LocationID,
			LocationName: item.LocationName,
			Unit:         item.QuantityUnit,
			CurrentStock: item.CurrentStock,
			MinStock:     item.MinStock,
		}
	}
}

// ClearCache removes cached products.
func (s *Service) ClearCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = make(map[productKey]models.Product)
}
