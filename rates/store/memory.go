// Package store provides in-memory rates.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/rates-engine/rates"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps each table in a map keyed by its identity key, so the
// uniqueness contract of rates.Store holds exactly as it does in SQLite.
type Memory struct {
	mu         sync.RWMutex
	properties map[rates.PropertyKey]rates.Property
	bills      map[billKey]rates.BillingRecord
	payers     map[rates.PayerID]rates.RatePayer
	councils   map[rates.CouncilID]rates.Council
}

type billKey struct {
	PropertyID   rates.PropertyID
	RatingPeriod rates.RatingPeriod
}

func NewMemory() *Memory {
	return &Memory{
		properties: make(map[rates.PropertyKey]rates.Property),
		bills:      make(map[billKey]rates.BillingRecord),
		payers:     make(map[rates.PayerID]rates.RatePayer),
		councils:   make(map[rates.CouncilID]rates.Council),
	}
}

func (m *Memory) FindProperty(_ context.Context, key rates.PropertyKey) (*rates.Property, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findPropertyLocked(key), nil
}

func (m *Memory) CreateProperty(_ context.Context, p rates.Property) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createPropertyLocked(p)
}

func (m *Memory) FindBill(_ context.Context, propertyID rates.PropertyID, period rates.RatingPeriod) (*rates.BillingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findBillLocked(propertyID, period), nil
}

func (m *Memory) CreateBill(_ context.Context, b rates.BillingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createBillLocked(b)
}

func (m *Memory) DeleteBills(_ context.Context, scope rates.Scope) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteBillsLocked(scope), nil
}

func (m *Memory) DeletePayers(_ context.Context, scope rates.Scope) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletePayersLocked(scope), nil
}

func (m *Memory) DeleteProperties(_ context.Context, scope rates.Scope) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletePropertiesLocked(scope), nil
}

// --- locked helpers, shared with the transactional view ---

func (m *Memory) findPropertyLocked(key rates.PropertyKey) *rates.Property {
	p, ok := m.properties[key]
	if !ok {
		return nil
	}
	return &p
}

func (m *Memory) createPropertyLocked(p rates.Property) error {
	if _, exists := m.properties[p.Key()]; exists {
		return rates.ErrDuplicateProperty
	}
	m.properties[p.Key()] = p
	return nil
}

func (m *Memory) findBillLocked(propertyID rates.PropertyID, period rates.RatingPeriod) *rates.BillingRecord {
	b, ok := m.bills[billKey{PropertyID: propertyID, RatingPeriod: period}]
	if !ok {
		return nil
	}
	return &b
}

func (m *Memory) createBillLocked(b rates.BillingRecord) error {
	k := billKey{PropertyID: b.PropertyID, RatingPeriod: b.RatingPeriod}
	if _, exists := m.bills[k]; exists {
		return rates.ErrDuplicateBill
	}
	m.bills[k] = b
	return nil
}

// inScopeLocked returns the ids of properties owned by the scope's council
// in the scope's period.
func (m *Memory) inScopeLocked(scope rates.Scope) map[rates.PropertyID]bool {
	ids := make(map[rates.PropertyID]bool)
	for _, p := range m.properties {
		if p.CouncilID == scope.Council.ID && p.RatingPeriod == scope.Period {
			ids[p.ID] = true
		}
	}
	return ids
}

func (m *Memory) deleteBillsLocked(scope rates.Scope) int64 {
	ids := m.inScopeLocked(scope)
	var n int64
	for k, b := range m.bills {
		if ids[b.PropertyID] && b.RatingPeriod == scope.Period {
			delete(m.bills, k)
			n++
		}
	}
	return n
}

func (m *Memory) deletePayersLocked(scope rates.Scope) int64 {
	ids := m.inScopeLocked(scope)
	var n int64
	for id, p := range m.payers {
		if ids[p.PropertyID] && p.RatingPeriod == scope.Period {
			delete(m.payers, id)
			n++
		}
	}
	return n
}

func (m *Memory) deletePropertiesLocked(scope rates.Scope) int64 {
	var n int64
	for k, p := range m.properties {
		if p.CouncilID == scope.Council.ID && p.RatingPeriod == scope.Period {
			delete(m.properties, k)
			n++
		}
	}
	return n
}

// =============================================================================
// CATALOG & COUNCILS
// =============================================================================

// ListProperties returns the scope's properties ordered by valuation id.
func (m *Memory) ListProperties(_ context.Context, scope rates.Scope) ([]rates.Property, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []rates.Property
	for _, p := range m.properties {
		if p.CouncilID == scope.Council.ID && p.RatingPeriod == scope.Period {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ValuationID < result[j].ValuationID })
	return result, nil
}

// ListBills returns bills for the scope's properties, ordered by property id.
func (m *Memory) ListBills(_ context.Context, scope rates.Scope) ([]rates.BillingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.inScopeLocked(scope)
	var result []rates.BillingRecord
	for _, b := range m.bills {
		if ids[b.PropertyID] && b.RatingPeriod == scope.Period {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PropertyID < result[j].PropertyID })
	return result, nil
}

func (m *Memory) ListPayers(_ context.Context, scope rates.Scope) ([]rates.RatePayer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := m.inScopeLocked(scope)
	var result []rates.RatePayer
	for _, p := range m.payers {
		if ids[p.PropertyID] && p.RatingPeriod == scope.Period {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SavePayer(_ context.Context, p rates.RatePayer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payers[p.ID] = p
	return nil
}

func (m *Memory) SaveCouncil(_ context.Context, c rates.Council) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.councils[c.ID] = c
	return nil
}

func (m *Memory) GetCouncil(_ context.Context, id rates.CouncilID) (*rates.Council, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.councils[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) ListCouncils(_ context.Context) ([]rates.Council, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]rates.Council, 0, len(m.councils))
	for _, c := range m.councils {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(rates.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	properties map[rates.PropertyKey]rates.Property
	bills      map[billKey]rates.BillingRecord
	payers     map[rates.PayerID]rates.RatePayer
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		properties: make(map[rates.PropertyKey]rates.Property, len(tm.properties)),
		bills:      make(map[billKey]rates.BillingRecord, len(tm.bills)),
		payers:     make(map[rates.PayerID]rates.RatePayer, len(tm.payers)),
	}
	for k, v := range tm.properties {
		s.properties[k] = v
	}
	for k, v := range tm.bills {
		s.bills[k] = v
	}
	for k, v := range tm.payers {
		s.payers[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.properties = s.properties
	tm.bills = s.bills
	tm.payers = s.payers
}

// txMemoryView runs against the parent while WithTx holds its lock.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) FindProperty(_ context.Context, key rates.PropertyKey) (*rates.Property, error) {
	return tv.parent.findPropertyLocked(key), nil
}

func (tv *txMemoryView) CreateProperty(_ context.Context, p rates.Property) error {
	return tv.parent.createPropertyLocked(p)
}

func (tv *txMemoryView) FindBill(_ context.Context, propertyID rates.PropertyID, period rates.RatingPeriod) (*rates.BillingRecord, error) {
	return tv.parent.findBillLocked(propertyID, period), nil
}

func (tv *txMemoryView) CreateBill(_ context.Context, b rates.BillingRecord) error {
	return tv.parent.createBillLocked(b)
}

func (tv *txMemoryView) DeleteBills(_ context.Context, scope rates.Scope) (int64, error) {
	return tv.parent.deleteBillsLocked(scope), nil
}

func (tv *txMemoryView) DeletePayers(_ context.Context, scope rates.Scope) (int64, error) {
	return tv.parent.deletePayersLocked(scope), nil
}

func (tv *txMemoryView) DeleteProperties(_ context.Context, scope rates.Scope) (int64, error) {
	return tv.parent.deletePropertiesLocked(scope), nil
}
