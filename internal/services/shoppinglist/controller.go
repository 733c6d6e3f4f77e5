// Package shoppinglist is the entry point for reading and editing shopping
// lists. Edits are applied to the local cache first and then either sent
// to the inventory service or queued until it can be reached.
package shoppinglist

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/TheMichaelB/shopsync/internal/connectivity"
	"github.com/TheMichaelB/shopsync/internal/events"
	"github.com/TheMichaelB/shopsync/internal/models"
	"github.com/TheMichaelB/shopsync/internal/projector"
	"github.com/TheMichaelB/shopsync/internal/queue"
	syncsvc "github.com/TheMichaelB/shopsync/internal/services/sync"
	"github.com/TheMichaelB/shopsync/internal/state"
	"github.com/TheMichaelB/shopsync/internal/transport"
)

// Connectivity reports whether the inventory service is reachable.
type Connectivity interface {
	Online() bool
	Status() connectivity.Status
}

// Drainer replays queued work.
type Drainer interface {
	Drain(ctx context.Context) (*syncsvc.DrainResult, error)
	Trigger(ctx context.Context)
	InstanceState(instanceID string) syncsvc.InstanceState
}

// Catalog supplies product metadata for optimistic items.
type Catalog interface {
	Lookup(ctx context.Context, instanceID string, productID int) (*models.Product, error)
	Cached(instanceID string, productID int) (*models.Product, bool)
	Observe(list *models.ShoppingList)
}

// Config tunes the controller.
type Config struct {
	// SnapshotThreshold is the number of queued item edits for one
	// instance after which the offline queue is cut over to a single
	// snapshot of the local list. Zero disables cutovers.
	SnapshotThreshold int
}

// Controller implements the shopping list operations.
type Controller struct {
	inventory transport.Inventory
	catalog   Catalog
	queue     *queue.Queue
	store     *state.SnapshotStore
	monitor   Connectivity
	drainer   Drainer
	logger    *events.Logger

	snapshotThreshold int

	// Request ids per instance, used to discard stale responses
	mu       sync.Mutex
	requests map[string]uint64

	now func() time.Time
}

// NewController creates a controller.
func NewController(
	inventory transport.Inventory,
	catalog Catalog,
	q *queue.Queue,
	store *state.SnapshotStore,
	monitor Connectivity,
	drainer Drainer,
	config *Config,
	logger *events.Logger,
) *Controller {
	c := &Controller{
		inventory: inventory,
		catalog:   catalog,
		queue:     q,
		store:     store,
		monitor:   monitor,
		drainer:   drainer,
		logger:    logger.WithField("service", "shoppinglist"),
		requests:  make(map[string]uint64),
		now:       func() time.Time { return time.Now().UTC() },
	}
	if config != nil {
		c.snapshotThreshold = config.SnapshotThreshold
	}
	return c
}

// Load returns the instance's list. Offline it serves the cache; online it
// replays queued work for the instance, fetches the server's list and
// caches it, falling back to the cache when the fetch fails. A nil list
// with a nil error means the instance has no active list.
func (c *Controller) Load(ctx context.Context, instanceID string) (*models.ShoppingList, error) {
	req := c.beginRequest(instanceID)
	logger := c.logger.WithField("instance_id", instanceID)

	if !c.monitor.Online() {
		logger.Debug("Offline, serving cached list")
		return c.store.LoadList(instanceID), nil
	}

	c.drainPending(ctx, instanceID)

	list, err := c.inventory.ActiveList(ctx, instanceID)
	if !c.isCurrent(instanceID, req) {
		logger.Debug("Discarding stale list response")
		return c.store.LoadList(instanceID), nil
	}

	if err != nil {
		if cached := c.store.LoadList(instanceID); cached != nil {
			logger.WithError(err).Warn("Failed to fetch list, serving cached copy")
			return cached, nil
		}
		return nil, fmt.Errorf("load shopping list: %w", err)
	}

	return c.cacheServerList(instanceID, list), nil
}

// Generate creates the instance's list from stock levels. It needs a
// connection and an empty queue for the instance: work that is still
// queued after a drain returns an error matching models.ErrPendingChanges.
// When a list already exists and merge is false it returns an error
// matching models.ErrActiveListExists; call again with merge set to fold
// stock levels into the existing list.
func (c *Controller) Generate(ctx context.Context, instanceID string, merge bool) (*models.ShoppingList, error) {
	if !c.monitor.Online() {
		return nil, models.ErrOffline
	}

	c.beginRequest(instanceID)
	c.drainPending(ctx, instanceID)

	if queued := c.queue.CountInstance(instanceID); queued > 0 {
		if !c.monitor.Online() {
			return nil, models.ErrOffline
		}
		return nil, fmt.Errorf("generate shopping list: %d queued: %w", queued, models.ErrPendingChanges)
	}

	list, err := c.inventory.GenerateList(ctx, instanceID, merge)
	if err != nil {
		switch {
		case models.IsConflict(err):
			return nil, fmt.Errorf("%w: %w", models.ErrActiveListExists, err)
		case models.IsNetworkError(err):
			return nil, fmt.Errorf("%w: %w", models.ErrOffline, err)
		default:
			return nil, fmt.Errorf("generate shopping list: %w", err)
		}
	}

	c.logger.WithFields(map[string]interface{}{
		"instance_id": instanceID,
		"merge":       merge,
		"items":       len(list.Items),
	}).Info("Generated shopping list")

	return c.cacheServerList(instanceID, list), nil
}

// Complete archives the instance's list and clears the cache. Offline the
// completion is queued.
func (c *Controller) Complete(ctx context.Context, instanceID string) error {
	action := models.NewAction(instanceID, models.CompleteListPayload{}, c.now())
	c.beginRequest(instanceID)

	if c.directAllowed(ctx, instanceID) {
		_, err := c.inventory.CompleteList(ctx, instanceID)
		if err == nil {
			c.store.ClearList(instanceID)
			c.logger.WithField("instance_id", instanceID).Info("Completed shopping list")
			return nil
		}
		if !models.IsNetworkError(err) {
			return fmt.Errorf("complete shopping list: %w", err)
		}
		defer c.fallback(ctx, instanceID, err)
	}

	unlock := c.store.LockList(instanceID)
	defer unlock()

	c.queue.Enqueue(action)
	c.store.ClearList(instanceID)
	return nil
}

// AddItem adds a product to the list. The item shows up locally at once
// with a temporary id and metadata from the product catalog.
func (c *Controller) AddItem(ctx context.Context, instanceID string, productID int, quantity float64) (*models.ShoppingList, error) {
	if productID <= 0 {
		return nil, &models.ValidationError{Field: "product_id", Message: "must be positive"}
	}
	if quantity <= 0 {
		return nil, &models.ValidationError{Field: "quantity", Message: "must be positive"}
	}
	if cached := c.store.LoadList(instanceID); cached != nil && cached.HasProduct(productID) {
		return nil, &models.ValidationError{
			Field:   "product_id",
			Message: fmt.Sprintf("product %d is already on the list", productID),
		}
	}

	item := models.NewTempItem(productID, quantity, c.product(ctx, instanceID, productID), c.now())

	return c.apply(ctx, mutation{
		op:         "add item",
		instanceID: instanceID,
		payload:    models.AddItemPayload{ProductID: productID, Quantity: quantity, Item: &item},
		reconcile:  true,
		send: func(ctx context.Context) ([]models.ShoppingListItem, error) {
			return c.inventory.BulkAddItems(ctx, instanceID, []transport.AddItemRequest{
				{ProductID: productID, Quantity: quantity},
			})
		},
	})
}

// UpdateItems applies partial updates to items. Updates without a client
// timestamp are stamped with the current time.
func (c *Controller) UpdateItems(ctx context.Context, instanceID string, updates []models.ItemUpdate) (*models.ShoppingList, error) {
	if len(updates) == 0 {
		return nil, &models.ValidationError{Field: "updates", Message: "cannot be empty"}
	}

	now := c.now()
	stamped := make([]models.ItemUpdate, len(updates))
	for i, u := range updates {
		if u.ClientTimestamp.IsZero() {
			u.ClientTimestamp = now
		}
		stamped[i] = u
	}

	return c.apply(ctx, mutation{
		op:         "update items",
		instanceID: instanceID,
		payload:    models.UpdateItemPayload{Updates: stamped},
		reconcile:  true,
		send: func(ctx context.Context) ([]models.ShoppingListItem, error) {
			var send []models.ItemUpdate
			for _, u := range stamped {
				if !models.IsTempID(u.ItemID) {
					send = append(send, u)
				}
			}
			if len(send) == 0 {
				return nil, nil
			}
			return c.inventory.BulkUpdateItems(ctx, instanceID, send)
		},
	})
}

// RemoveItems removes items by id.
func (c *Controller) RemoveItems(ctx context.Context, instanceID string, itemIDs []string) (*models.ShoppingList, error) {
	ids := append([]string{}, itemIDs...)

	return c.apply(ctx, mutation{
		op:         "remove items",
		instanceID: instanceID,
		payload:    models.RemoveItemPayload{ItemIDs: ids},
		send: func(ctx context.Context) ([]models.ShoppingListItem, error) {
			var send []string
			for _, id := range ids {
				if !models.IsTempID(id) {
					send = append(send, id)
				}
			}
			if len(send) == 0 {
				return nil, nil
			}
			_, err := c.inventory.BulkRemoveItems(ctx, instanceID, send)
			return nil, err
		},
	})
}

// SetLocationChecked marks every item stored at a location as purchased,
// or back to pending.
func (c *Controller) SetLocationChecked(ctx context.Context, instanceID, locationID string, checked bool) (*models.ShoppingList, error) {
	list := c.store.LoadList(instanceID)
	if list == nil {
		return nil, models.ErrNoActiveList
	}

	ids := list.ItemIDsAtLocation(locationID)
	if len(ids) == 0 {
		return list, nil
	}

	status := models.ItemPending
	if checked {
		status = models.ItemPurchased
	}

	now := c.now()
	updates := make([]models.ItemUpdate, len(ids))
	for i, id := range ids {
		updates[i] = models.StatusUpdate(id, status, now)
	}

	return c.UpdateItems(ctx, instanceID, updates)
}

// RemoveChecked removes every purchased item.
func (c *Controller) RemoveChecked(ctx context.Context, instanceID string) (*models.ShoppingList, error) {
	list := c.store.LoadList(instanceID)
	if list == nil {
		return nil, models.ErrNoActiveList
	}

	ids := list.CheckedItemIDs()
	if len(ids) == 0 {
		return list, nil
	}

	return c.RemoveItems(ctx, instanceID, ids)
}

// mutation is one optimistic item edit.
type mutation struct {
	op         string
	instanceID string
	payload    models.ActionPayload
	send       func(ctx context.Context) ([]models.ShoppingListItem, error)

	// reconcile writes the returned server items into the cache
	reconcile bool
}

// apply projects the edit onto the cache, then sends it when the service
// is reachable and nothing is queued ahead of it, else queues it. Network
// failures fall back to the queue; server rejections roll the cache back.
func (c *Controller) apply(ctx context.Context, m mutation) (*models.ShoppingList, error) {
	now := c.now()
	action := models.NewAction(m.instanceID, m.payload, now)
	if err := action.Validate(); err != nil {
		return nil, err
	}

	c.beginRequest(m.instanceID)
	direct := c.directAllowed(ctx, m.instanceID)

	unlock := c.store.LockList(m.instanceID)
	before := c.store.LoadList(m.instanceID)
	after := projector.Apply(before, action, now)
	c.cache(m.instanceID, after)

	if !direct {
		c.enqueue(action, after)
		unlock()
		return after, nil
	}
	unlock()

	items, err := m.send(ctx)
	if err == nil {
		if m.reconcile {
			return c.reconcileItems(m.instanceID, items, after), nil
		}
		return c.reapply(m.instanceID, action, now), nil
	}

	if !models.IsNetworkError(err) {
		c.rollback(ctx, m.instanceID, before)
		return nil, fmt.Errorf("%s: %w", m.op, err)
	}
	defer c.fallback(ctx, m.instanceID, err)

	// A drain may have refreshed the cache while the call was in flight.
	unlock = c.store.LockList(m.instanceID)
	defer unlock()

	after = projector.Apply(c.store.LoadList(m.instanceID), action, now)
	c.cache(m.instanceID, after)
	c.enqueue(action, after)
	return after, nil
}

// reapply projects a sent edit onto the current cache again, in case a
// refresh replaced it while the call was in flight.
func (c *Controller) reapply(instanceID string, action models.PendingAction, now time.Time) *models.ShoppingList {
	unlock := c.store.LockList(instanceID)
	defer unlock()

	list := projector.Apply(c.store.LoadList(instanceID), action, now)
	c.cache(instanceID, list)
	return list
}

// enqueue queues an edit and cuts the instance over to a snapshot once
// enough edits have piled up.
func (c *Controller) enqueue(action models.PendingAction, list *models.ShoppingList) {
	if !c.queue.Enqueue(action) {
		return
	}

	if c.snapshotThreshold <= 0 || list == nil || !action.IsGranular() {
		return
	}

	queued := c.queue.CountGranular(action.InstanceID)
	if queued < c.snapshotThreshold {
		return
	}

	snapshot := models.NewAction(action.InstanceID, models.ReplaySnapshotPayload{List: list.Clone()}, c.now())
	if c.queue.Enqueue(snapshot) {
		c.logger.WithFields(map[string]interface{}{
			"instance_id": action.InstanceID,
			"edits":       queued,
		}).Info("Queued snapshot cutover")
	}
}

// fallback handles a network failure on a direct call. The edit has been
// queued; a drain is started in case the connection is only flapping.
func (c *Controller) fallback(ctx context.Context, instanceID string, err error) {
	c.logger.WithError(err).WithField("instance_id", instanceID).Warn("Service unreachable, change queued")
	c.drainer.Trigger(context.WithoutCancel(ctx))
}

// rollback replaces a rejected optimistic edit with the server's list, or
// with the list as it was before the edit when the server is unreachable.
func (c *Controller) rollback(ctx context.Context, instanceID string, before *models.ShoppingList) {
	list, err := c.inventory.ActiveList(ctx, instanceID)
	if err == nil {
		c.cacheServerList(instanceID, list)
		return
	}

	c.logger.WithError(err).WithField("instance_id", instanceID).Warn("Reload after rejected change failed, restoring previous list")

	unlock := c.store.LockList(instanceID)
	defer unlock()
	c.cache(instanceID, before)
}

// directAllowed reports whether an edit may go straight to the service.
// Queued work for the instance must reach the server first.
func (c *Controller) directAllowed(ctx context.Context, instanceID string) bool {
	if !c.monitor.Online() {
		return false
	}
	if !c.queue.HasInstance(instanceID) {
		return true
	}

	c.drainPending(ctx, instanceID)
	return c.monitor.Online() && !c.queue.HasInstance(instanceID)
}

// drainPending replays queued work for the instance before a read or
// direct write. Failures are left for the next drain.
func (c *Controller) drainPending(ctx context.Context, instanceID string) {
	if !c.queue.HasInstance(instanceID) {
		return
	}

	if _, err := c.drainer.Drain(ctx); err != nil {
		c.logger.WithError(err).WithField("instance_id", instanceID).Debug("Opportunistic drain did not run")
	}
}

// cacheServerList stores the server's list with any still-queued work for
// the instance applied on top.
func (c *Controller) cacheServerList(instanceID string, list *models.ShoppingList) *models.ShoppingList {
	unlock := c.store.LockList(instanceID)
	defer unlock()

	if list != nil {
		c.catalog.Observe(list)
		list = projector.ApplyAll(list, c.queue.PendingFor(instanceID), c.now())
	}
	c.cache(instanceID, list)
	return list
}

// cache writes the instance's list. Callers hold the list lock.
func (c *Controller) cache(instanceID string, list *models.ShoppingList) {
	if list == nil {
		c.store.ClearList(instanceID)
		return
	}
	c.store.SaveList(list)
}

// reconcileItems writes server items over their cached copies. Items
// created from a temporary item replace it by product.
func (c *Controller) reconcileItems(instanceID string, items []models.ShoppingListItem, projected *models.ShoppingList) *models.ShoppingList {
	unlock := c.store.LockList(instanceID)
	defer unlock()

	list := c.store.LoadList(instanceID)
	if list == nil {
		list = projected.Clone()
	}
	if list == nil || len(items) == 0 {
		return list
	}

	for _, item := range items {
		if idx := list.ItemIndex(item.ID); idx >= 0 {
			list.Items[idx] = item.Clone()
			continue
		}
		for i := range list.Items {
			if models.IsTempID(list.Items[i].ID) && list.Items[i].ProductID == item.ProductID {
				list.Items[i] = item.Clone()
				break
			}
		}
	}

	c.store.SaveList(list)
	return list
}

// product returns catalog metadata for an optimistic item, or nil when
// none is known.
func (c *Controller) product(ctx context.Context, instanceID string, productID int) *models.Product {
	if !c.monitor.Online() {
		p, _ := c.catalog.Cached(instanceID, productID)
		return p
	}

	p, err := c.catalog.Lookup(ctx, instanceID, productID)
	if err != nil {
		c.logger.WithError(err).WithField("product_id", productID).Debug("Product metadata unavailable")
		return nil
	}
	return p
}

func (c *Controller) beginRequest(instanceID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[instanceID]++
	return c.requests[instanceID]
}

func (c *Controller) isCurrent(instanceID string, req uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[instanceID] == req
}
