package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/TheMichaelB/shopsync/internal/models"
)

// Operation names recorded by MockTransport.
const (
	OpActiveList   = "ActiveList"
	OpGenerateList = "GenerateList"
	OpCompleteList = "CompleteList"
	OpBulkAdd      = "BulkAddItems"
	OpBulkUpdate   = "BulkUpdateItems"
	OpBulkRemove   = "BulkRemoveItems"
	OpProduct      = "Product"
)

// ErrMockOffline is wrapped in the NetworkError returned while the mock is
// offline.
var ErrMockOffline = errors.New("connection refused")

// MockTransport is an in-memory inventory service for tests.
type MockTransport struct {
	mu sync.Mutex

	// Server state
	lists    map[string]*models.ShoppingList
	products map[int]models.Product
	nextID   int

	// Error injection
	offline bool
	errs    map[string][]error

	// Hooks run before a call is served. Used to hold responses.
	before map[string]func()

	// Request tracking
	Calls []Call
}

// Call records one request.
type Call struct {
	Op         string
	InstanceID string
	Payload    interface{}
}

var _ Inventory = (*MockTransport)(nil)

// NewMockTransport creates an empty mock service.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		lists:    make(map[string]*models.ShoppingList),
		products: make(map[int]models.Product),
		errs:     make(map[string][]error),
		before:   make(map[string]func()),
	}
}

// SetList installs list as the instance's active list.
func (m *MockTransport) SetList(list *models.ShoppingList) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[list.InstanceID] = list.Clone()
}

// List returns a copy of the server's list for an instance.
func (m *MockTransport) List(instanceID string) *models.ShoppingList {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lists[instanceID].Clone()
}

// AddProduct registers catalog metadata.
func (m *MockTransport) AddProduct(p models.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

// SetOffline makes every call fail with a NetworkError.
func (m *MockTransport) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

// FailNext queues errors returned by the next calls to op, one per call.
func (m *MockTransport) FailNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[op] = append(m.errs[op], errs...)
}

// Before registers fn to run, without the lock held, before op is served.
func (m *MockTransport) Before(op string, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.before[op] = fn
}

// CallsFor returns the recorded calls to op.
func (m *MockTransport) CallsFor(op string) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Call
	for _, c := range m.Calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// CallOps returns the recorded operation names in order.
func (m *MockTransport) CallOps() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ops := make([]string, len(m.Calls))
	for i, c := range m.Calls {
		ops[i] = c.Op
	}
	return ops
}

// Reset clears recorded calls and pending injected errors.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.errs = make(map[string][]error)
}

// begin records the call and returns any injected error. On success the
// lock is held and the caller must unlock.
func (m *MockTransport) begin(op, instanceID string, payload interface{}) error {
	m.mu.Lock()
	hook := m.before[op]
	m.mu.Unlock()

	if hook != nil {
		hook()
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, Call{Op: op, InstanceID: instanceID, Payload: payload})

	if m.offline {
		m.mu.Unlock()
		return &models.NetworkError{Op: op, Err: ErrMockOffline}
	}

	if queued := m.errs[op]; len(queued) > 0 {
		err := queued[0]
		m.errs[op] = queued[1:]
		if err != nil {
			m.mu.Unlock()
			return err
		}
	}

	return nil
}

func mockAPIError(status int, msg string) *models.APIError {
	return &models.APIError{
		Code:       http.StatusText(status),
		Message:    msg,
		StatusCode: status,
	}
}

func (m *MockTransport) touch(list *models.ShoppingList) {
	list.Version++
	list.LastModifiedAt = time.Now().UTC()
}

// ActiveList returns the instance's list or nil.
func (m *MockTransport) ActiveList(ctx context.Context, instanceID string) (*models.ShoppingList, error) {
	if err := m.begin(OpActiveList, instanceID, nil); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	return m.lists[instanceID].Clone(), nil
}

// GenerateList creates an empty list, or keeps the current one when merge
// is set.
func (m *MockTransport) GenerateList(ctx context.Context, instanceID string, merge bool) (*models.ShoppingList, error) {
	if err := m.begin(OpGenerateList, instanceID, merge); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	if existing, ok := m.lists[instanceID]; ok {
		if !merge {
			return nil, mockAPIError(http.StatusConflict, "active shopping list already exists")
		}
		m.touch(existing)
		return existing.Clone(), nil
	}

	m.nextID++
	list := models.NewShoppingList(fmt.Sprintf("list-%d", m.nextID), instanceID)
	list.Version = 1
	m.lists[instanceID] = list
	return list.Clone(), nil
}

// CompleteList archives the active list.
func (m *MockTransport) CompleteList(ctx context.Context, instanceID string) (string, error) {
	if err := m.begin(OpCompleteList, instanceID, nil); err != nil {
		return "", err
	}
	defer m.mu.Unlock()

	if _, ok := m.lists[instanceID]; !ok {
		return "", mockAPIError(http.StatusNotFound, "no active shopping list")
	}
	delete(m.lists, instanceID)
	return "Shopping list completed", nil
}

// BulkAddItems adds products, rejecting ones already on the list.
func (m *MockTransport) BulkAddItems(ctx context.Context, instanceID string, items []AddItemRequest) ([]models.ShoppingListItem, error) {
	if err := m.begin(OpBulkAdd, instanceID, append([]AddItemRequest{}, items...)); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	list, ok := m.lists[instanceID]
	if !ok {
		return nil, mockAPIError(http.StatusNotFound, "no active shopping list")
	}

	for _, req := range items {
		if list.HasProduct(req.ProductID) {
			return nil, mockAPIError(http.StatusBadRequest, fmt.Sprintf("product %d already on list", req.ProductID))
		}
	}

	now := time.Now().UTC()
	added := make([]models.ShoppingListItem, 0, len(items))
	for _, req := range items {
		m.nextID++
		item := models.ShoppingListItem{
			ID:                fmt.Sprintf("srv-%d", m.nextID),
			ProductID:         req.ProductID,
			ProductName:       fmt.Sprintf("Product #%d", req.ProductID),
			Status:            models.ItemPending,
			QuantitySuggested: req.Quantity,
			ModifiedAt:        now,
		}
		if p, ok := m.products[req.ProductID]; ok {
			item.ProductName = p.Name
			item.LocationID = p.LocationID
			item.LocationName = p.LocationName
			item.QuantityUnit = p.Unit
		}
		list.Items = append(list.Items, item)
		added = append(added, item.Clone())
	}

	m.touch(list)
	return added, nil
}

// BulkUpdateItems applies updates to known items.
func (m *MockTransport) BulkUpdateItems(ctx context.Context, instanceID string, updates []models.ItemUpdate) ([]models.ShoppingListItem, error) {
	if err := m.begin(OpBulkUpdate, instanceID, append([]models.ItemUpdate{}, updates...)); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	list, ok := m.lists[instanceID]
	if !ok {
		return nil, mockAPIError(http.StatusNotFound, "no active shopping list")
	}

	now := time.Now().UTC()
	var updated []models.ShoppingListItem
	for _, u := range updates {
		if idx := list.ItemIndex(u.ItemID); idx >= 0 {
			u.ApplyTo(&list.Items[idx], now)
			updated = append(updated, list.Items[idx].Clone())
		}
	}

	m.touch(list)
	return updated, nil
}

// BulkRemoveItems removes items by id.
func (m *MockTransport) BulkRemoveItems(ctx context.Context, instanceID string, itemIDs []string) ([]models.ShoppingListItem, error) {
	if err := m.begin(OpBulkRemove, instanceID, append([]string{}, itemIDs...)); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	list, ok := m.lists[instanceID]
	if !ok {
		return nil, mockAPIError(http.StatusNotFound, "no active shopping list")
	}

	gone := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		gone[id] = true
	}

	var removed []models.ShoppingListItem
	kept := list.Items[:0]
	for _, item := range list.Items {
		if gone[item.ID] {
			removed = append(removed, item)
			continue
		}
		kept = append(kept, item)
	}
	list.Items = kept

	m.touch(list)
	return removed, nil
}

// Product returns registered catalog metadata.
func (m *MockTransport) Product(ctx context.Context, instanceID string, productID int) (*models.Product, error) {
	if err := m.begin(OpProduct, instanceID, productID); err != nil {
		return nil, err
	}
	defer m.mu.Unlock()

	p, ok := m.products[productID]
	if !ok {
		return nil, mockAPIError(http.StatusNotFound, "product not found")
	}
	return &p, nil
}
