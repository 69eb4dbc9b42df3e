// Package cache is the authoritative in-memory store of orders, positions and accounts.
//
// Primary maps hold the entities; index sets (sorted by id) answer the open/closed/inflight
// and instrument/strategy queries. Every index is derivable from the primary maps, and
// CheckIntegrity recomputes them to prove it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emirpasic/gods/v2/sets/treeset"

	"tradecore/internal/domain"
	"tradecore/internal/execution"
	"tradecore/pkg/quant"
)

var ErrNotFound = errors.New("not found")

// Database is the optional persistence behind the cache. Every mutation is written through.
type Database interface {
	SaveOrder(ctx context.Context, o *execution.Order) error
	SavePosition(ctx context.Context, p *execution.Position) error
	SaveAccount(ctx context.Context, a *domain.Account) error
	LoadOrders(ctx context.Context) ([]*execution.Order, error)
	LoadPositions(ctx context.Context) ([]*execution.Position, error)
	LoadAccounts(ctx context.Context) ([]*domain.Account, error)
}

// Filter narrows a query. Zero fields match everything.
type Filter struct {
	Instrument domain.InstrumentID
	Strategy   domain.StrategyID
	Side       domain.OrderSide
}

type orderSet = *treeset.Set[domain.ClientOrderID]
type positionSet = *treeset.Set[domain.PositionID]

type Cache struct {
	mu sync.RWMutex
	db Database

	orders    map[domain.ClientOrderID]*execution.Order
	positions map[domain.PositionID]*execution.Position
	accounts  map[domain.AccountID]*domain.Account

	venueToClient  map[domain.VenueOrderID]domain.ClientOrderID
	clientToVenue  map[domain.ClientOrderID]domain.VenueOrderID
	orderPosition  map[domain.ClientOrderID]domain.PositionID
	positionOrders map[domain.PositionID]orderSet

	ordersOpen      orderSet
	ordersClosed    orderSet
	ordersInflight  orderSet
	positionsOpen   positionSet
	positionsClosed positionSet

	ordersByInstrument    map[domain.InstrumentID]orderSet
	ordersByStrategy      map[domain.StrategyID]orderSet
	positionsByInstrument map[domain.InstrumentID]positionSet
	positionsByStrategy   map[domain.StrategyID]positionSet
}

// New creates an empty cache. db may be nil.
func New(db Database) *Cache {
	c := &Cache{db: db}
	c.init()
	return c
}

func (c *Cache) init() {
	c.orders = make(map[domain.ClientOrderID]*execution.Order)
	c.positions = make(map[domain.PositionID]*execution.Position)
	c.accounts = make(map[domain.AccountID]*domain.Account)
	c.venueToClient = make(map[domain.VenueOrderID]domain.ClientOrderID)
	c.clientToVenue = make(map[domain.ClientOrderID]domain.VenueOrderID)
	c.orderPosition = make(map[domain.ClientOrderID]domain.PositionID)
	c.positionOrders = make(map[domain.PositionID]orderSet)
	c.ordersOpen = treeset.New[domain.ClientOrderID]()
	c.ordersClosed = treeset.New[domain.ClientOrderID]()
	c.ordersInflight = treeset.New[domain.ClientOrderID]()
	c.positionsOpen = treeset.New[domain.PositionID]()
	c.positionsClosed = treeset.New[domain.PositionID]()
	c.ordersByInstrument = make(map[domain.InstrumentID]orderSet)
	c.ordersByStrategy = make(map[domain.StrategyID]orderSet)
	c.positionsByInstrument = make(map[domain.InstrumentID]positionSet)
	c.positionsByStrategy = make(map[domain.StrategyID]positionSet)
}

// Load fills an empty cache from the database.
func (c *Cache) Load(ctx context.Context) error {
	if c.db == nil {
		return nil
	}
	accounts, err := c.db.LoadAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load accounts: %w", err)
	}
	orders, err := c.db.LoadOrders(ctx)
	if err != nil {
		return fmt.Errorf("failed to load orders: %w", err)
	}
	positions, err := c.db.LoadPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load positions: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range accounts {
		c.accounts[a.ID] = a
	}
	for _, o := range orders {
		if _, ok := c.orders[o.ClientOrderID]; ok {
			return fmt.Errorf("load order %s: %w", o.ClientOrderID, domain.ErrDuplicateOrder)
		}
		c.indexOrder(o)
		if o.PositionID != "" {
			c.bindPosition(o.ClientOrderID, o.PositionID)
		}
	}
	for _, p := range positions {
		if _, ok := c.positions[p.ID]; ok {
			return fmt.Errorf("load position %s: %w", p.ID, domain.ErrDuplicatePosition)
		}
		c.indexPosition(p)
	}
	slog.Info("CACHE_LOADED",
		slog.Int("orders", len(orders)),
		slog.Int("positions", len(positions)),
		slog.Int("accounts", len(accounts)))
	return nil
}

// AddOrder stores a new order, optionally binding it to a position.
func (c *Cache) AddOrder(o *execution.Order, positionID domain.PositionID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.orders[o.ClientOrderID]; ok {
		return fmt.Errorf("add order %s: %w", o.ClientOrderID, domain.ErrDuplicateOrder)
	}
	if o.VenueOrderID != "" {
		if err := c.checkVenueBinding(o.ClientOrderID, o.VenueOrderID, false); err != nil {
			return err
		}
	}
	if positionID == "" {
		positionID = o.PositionID
	}
	c.indexOrder(o)
	if positionID != "" {
		c.bindPosition(o.ClientOrderID, positionID)
	}
	return c.saveOrder(o)
}

// UpdateOrder re-indexes an order after events were applied to it.
func (c *Cache) UpdateOrder(o *execution.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.orders[o.ClientOrderID]; !ok {
		return fmt.Errorf("update order %s: %w", o.ClientOrderID, ErrNotFound)
	}
	if o.VenueOrderID != "" && c.clientToVenue[o.ClientOrderID] != o.VenueOrderID {
		// Venues may reassign ids on amend.
		if err := c.checkVenueBinding(o.ClientOrderID, o.VenueOrderID, true); err != nil {
			return err
		}
	}
	if o.PositionID != "" {
		if cur, ok := c.orderPosition[o.ClientOrderID]; ok && cur != o.PositionID {
			return fmt.Errorf("order %s bound to %s, got %s: %w", o.ClientOrderID, cur, o.PositionID, domain.ErrIdentityConflict)
		}
	}
	c.unindexOrder(o.ClientOrderID)
	c.indexOrder(o)
	if o.PositionID != "" {
		c.bindPosition(o.ClientOrderID, o.PositionID)
	}
	return c.saveOrder(o)
}

// AddPosition stores a newly opened position and links the orders that filled into it.
func (c *Cache) AddPosition(p *execution.Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.positions[p.ID]; ok {
		return fmt.Errorf("add position %s: %w", p.ID, domain.ErrDuplicatePosition)
	}
	c.indexPosition(p)
	return c.savePosition(p)
}

func (c *Cache) UpdatePosition(p *execution.Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.positions[p.ID]; !ok {
		return fmt.Errorf("update position %s: %w", p.ID, ErrNotFound)
	}
	c.unindexPosition(p.ID)
	c.indexPosition(p)
	return c.savePosition(p)
}

// AddPositionID binds an order to a position. Rebinding to a different position is a conflict.
func (c *Cache) AddPositionID(positionID domain.PositionID, clientOrderID domain.ClientOrderID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.orderPosition[clientOrderID]; ok && cur != positionID {
		return fmt.Errorf("order %s bound to %s, got %s: %w", clientOrderID, cur, positionID, domain.ErrIdentityConflict)
	}
	c.bindPosition(clientOrderID, positionID)
	return nil
}

// AddVenueOrderID binds a venue id to a client order id. Without overwrite, any binding that
// contradicts an existing one in either direction is an IdentityConflictError.
func (c *Cache) AddVenueOrderID(clientOrderID domain.ClientOrderID, venueOrderID domain.VenueOrderID, overwrite bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkVenueBinding(clientOrderID, venueOrderID, overwrite); err != nil {
		return err
	}
	c.bindVenue(clientOrderID, venueOrderID)
	return nil
}

func (c *Cache) checkVenueBinding(clientOrderID domain.ClientOrderID, venueOrderID domain.VenueOrderID, overwrite bool) error {
	if other, ok := c.venueToClient[venueOrderID]; ok && other != clientOrderID {
		return &domain.IdentityConflictError{ClientOrderID: other, Existing: venueOrderID, Incoming: venueOrderID}
	}
	if overwrite {
		return nil
	}
	if cur, ok := c.clientToVenue[clientOrderID]; ok && cur != venueOrderID {
		return &domain.IdentityConflictError{ClientOrderID: clientOrderID, Existing: cur, Incoming: venueOrderID}
	}
	return nil
}

func (c *Cache) bindVenue(clientOrderID domain.ClientOrderID, venueOrderID domain.VenueOrderID) {
	if cur, ok := c.clientToVenue[clientOrderID]; ok && cur != venueOrderID {
		delete(c.venueToClient, cur)
	}
	c.clientToVenue[clientOrderID] = venueOrderID
	c.venueToClient[venueOrderID] = clientOrderID
}

func (c *Cache) bindPosition(clientOrderID domain.ClientOrderID, positionID domain.PositionID) {
	c.orderPosition[clientOrderID] = positionID
	set, ok := c.positionOrders[positionID]
	if !ok {
		set = treeset.New[domain.ClientOrderID]()
		c.positionOrders[positionID] = set
	}
	set.Add(clientOrderID)
}

func (c *Cache) AddAccount(a *domain.Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.accounts[a.ID]; ok {
		return fmt.Errorf("add account %s: %w", a.ID, domain.ErrIdentityConflict)
	}
	c.accounts[a.ID] = a
	return c.saveAccount(a)
}

func (c *Cache) UpdateAccount(a *domain.Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.accounts[a.ID]; !ok {
		return fmt.Errorf("update account %s: %w", a.ID, ErrNotFound)
	}
	c.accounts[a.ID] = a
	return c.saveAccount(a)
}

func (c *Cache) indexOrder(o *execution.Order) {
	id := o.ClientOrderID
	c.orders[id] = o
	if o.VenueOrderID != "" {
		c.bindVenue(id, o.VenueOrderID)
	}
	switch {
	case o.IsClosed():
		c.ordersClosed.Add(id)
	case o.IsOpen():
		c.ordersOpen.Add(id)
	}
	if o.IsInflight() {
		c.ordersInflight.Add(id)
	}
	addTo(c.ordersByInstrument, o.InstrumentID, id)
	addTo(c.ordersByStrategy, o.StrategyID, id)
}

func (c *Cache) unindexOrder(id domain.ClientOrderID) {
	o, ok := c.orders[id]
	if !ok {
		return
	}
	c.ordersOpen.Remove(id)
	c.ordersClosed.Remove(id)
	c.ordersInflight.Remove(id)
	removeFrom(c.ordersByInstrument, o.InstrumentID, id)
	removeFrom(c.ordersByStrategy, o.StrategyID, id)
}

func (c *Cache) indexPosition(p *execution.Position) {
	id := p.ID
	c.positions[id] = p
	if p.IsOpen() {
		c.positionsOpen.Add(id)
	} else {
		c.positionsClosed.Add(id)
	}
	addTo(c.positionsByInstrument, p.Instrument.ID, id)
	addTo(c.positionsByStrategy, p.StrategyID, id)
	for _, coid := range p.ClientOrderIDs() {
		if _, ok := c.orderPosition[coid]; !ok {
			c.bindPosition(coid, id)
		}
	}
}

func (c *Cache) unindexPosition(id domain.PositionID) {
	p, ok := c.positions[id]
	if !ok {
		return
	}
	c.positionsOpen.Remove(id)
	c.positionsClosed.Remove(id)
	removeFrom(c.positionsByInstrument, p.Instrument.ID, id)
	removeFrom(c.positionsByStrategy, p.StrategyID, id)
}

func addTo[K comparable, V ~string](m map[K]*treeset.Set[V], key K, id V) {
	set, ok := m[key]
	if !ok {
		set = treeset.New[V]()
		m[key] = set
	}
	set.Add(id)
}

func removeFrom[K comparable, V ~string](m map[K]*treeset.Set[V], key K, id V) {
	set, ok := m[key]
	if !ok {
		return
	}
	set.Remove(id)
	if set.Empty() {
		delete(m, key)
	}
}

func (c *Cache) saveOrder(o *execution.Order) error {
	if c.db == nil {
		return nil
	}
	if err := c.db.SaveOrder(context.Background(), o); err != nil {
		return fmt.Errorf("failed to persist order %s: %w", o.ClientOrderID, err)
	}
	return nil
}

func (c *Cache) savePosition(p *execution.Position) error {
	if c.db == nil {
		return nil
	}
	if err := c.db.SavePosition(context.Background(), p); err != nil {
		return fmt.Errorf("failed to persist position %s: %w", p.ID, err)
	}
	return nil
}

func (c *Cache) saveAccount(a *domain.Account) error {
	if c.db == nil {
		return nil
	}
	if err := c.db.SaveAccount(context.Background(), a); err != nil {
		return fmt.Errorf("failed to persist account %s: %w", a.ID, err)
	}
	return nil
}

// PurgeClosedOrders drops closed orders last updated at or before cutoff.
// Orders that belong to an open position are kept.
func (c *Cache) PurgeClosedOrders(cutoff quant.UnixNanos) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	purged := 0
	for _, id := range c.ordersClosed.Values() {
		o := c.orders[id]
		if o.TsLast > cutoff {
			continue
		}
		if pid, ok := c.orderPosition[id]; ok && c.positionsOpen.Contains(pid) {
			continue
		}
		c.unindexOrder(id)
		delete(c.orders, id)
		if vid, ok := c.clientToVenue[id]; ok {
			delete(c.venueToClient, vid)
			delete(c.clientToVenue, id)
		}
		if pid, ok := c.orderPosition[id]; ok {
			delete(c.orderPosition, id)
			removeFrom(c.positionOrders, pid, id)
		}
		purged++
	}
	if purged > 0 {
		slog.Info("CACHE_ORDERS_PURGED", slog.Int("count", purged))
	}
	return purged
}

// PurgeClosedPositions drops closed positions closed at or before cutoff.
func (c *Cache) PurgeClosedPositions(cutoff quant.UnixNanos) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	purged := 0
	for _, id := range c.positionsClosed.Values() {
		if c.positions[id].TsClosed > cutoff {
			continue
		}
		c.unindexPosition(id)
		delete(c.positions, id)
		if set, ok := c.positionOrders[id]; ok {
			for _, coid := range set.Values() {
				if c.orderPosition[coid] == id {
					delete(c.orderPosition, coid)
				}
			}
			delete(c.positionOrders, id)
		}
		purged++
	}
	if purged > 0 {
		slog.Info("CACHE_POSITIONS_PURGED", slog.Int("count", purged))
	}
	return purged
}

// Reset drops everything held in memory. The database is untouched.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.init()
}
