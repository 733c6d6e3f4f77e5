package shoppinglist

import (
	"sort"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/TheMichaelB/shopsync/internal/models"
	syncsvc "github.com/TheMichaelB/shopsync/internal/services/sync"
)

// UnsortedLocation names the section for items without a location.
const UnsortedLocation = "Unsorted"

// Section is the part of a list stored at one location.
type Section struct {
	LocationID   string                    `json:"location_id"`
	LocationName string                    `json:"location_name"`
	Items        []models.ShoppingListItem `json:"items"`
	Checked      int                       `json:"checked"`
}

// View is a consistent read of one instance: the cached list grouped by
// location plus sync status.
type View struct {
	InstanceID          string                `json:"instance_id"`
	List                *models.ShoppingList  `json:"list"`
	Sections            []Section             `json:"sections"`
	CachedAt            time.Time             `json:"cached_at"`
	Online              bool                  `json:"online"`
	PersistenceDegraded bool                  `json:"persistence_degraded"`
	HadSyncDrop         bool                  `json:"had_sync_drop"`
	Pending             int                   `json:"pending"`
	State               syncsvc.InstanceState `json:"state"`
}

// View returns the cached list and sync status for an instance without
// any network call.
func (c *Controller) View(instanceID string) *View {
	list := c.store.LoadList(instanceID)
	status := c.monitor.Status()

	v := &View{
		InstanceID:          instanceID,
		List:                list,
		Sections:            BuildSections(list),
		Online:              status.Online,
		PersistenceDegraded: status.PersistenceDegraded,
		HadSyncDrop:         status.HadSyncDrop,
		Pending:             c.queue.CountInstance(instanceID),
		State:               c.drainer.InstanceState(instanceID),
	}
	if at, ok := c.store.ListStoredAt(instanceID); ok {
		v.CachedAt = at
	}
	return v
}

// BuildSections groups items by location. Sections follow the list's
// location order; locations missing from it come after, sorted by name,
// and unlocated items come last. Items keep their list order.
func BuildSections(list *models.ShoppingList) []Section {
	if list == nil {
		return nil
	}

	var sections []Section
	index := make(map[string]int)
	for _, item := range list.Items {
		i, ok := index[item.LocationID]
		if !ok {
			name := item.LocationName
			if item.LocationID == "" {
				name = UnsortedLocation
			}
			i = len(sections)
			index[item.LocationID] = i
			sections = append(sections, Section{LocationID: item.LocationID, LocationName: name})
		}
		sections[i].Items = append(sections[i].Items, item)
		if item.Status == models.ItemPurchased {
			sections[i].Checked++
		}
	}

	rank := make(map[string]int, len(list.LocationOrder))
	for i, id := range list.LocationOrder {
		if _, ok := rank[id]; !ok {
			rank[id] = i
		}
	}

	collator := collate.New(language.Und, collate.IgnoreCase)
	sort.SliceStable(sections, func(i, j int) bool {
		a, b := sections[i], sections[j]
		if (a.LocationID == "") != (b.LocationID == "") {
			return b.LocationID == ""
		}

		ra, okA := rank[a.LocationID]
		rb, okB := rank[b.LocationID]
		switch {
		case okA && okB:
			return ra < rb
		case okA != okB:
			return okA
		default:
			return collator.CompareString(a.LocationName, b.LocationName) < 0
		}
	})

	return sections
}
