// Package state holds the single mutable record backing the panel.
package state

import (
	"sync"
	"time"

	"github.com/codexmanager/cmpanel/internal/models"
)

// Page identifies the view the operator is looking at.
type Page string

const (
	PageDashboard   Page = "dashboard"
	PageAccounts    Page = "accounts"
	PageAPIKeys     Page = "apikeys"
	PageRequestLogs Page = "requestlogs"
)

// Snapshot is a copy of the panel state handed to readers. No slice or
// pointer in it is shared with the store.
type Snapshot struct {
	ServiceAddr      string
	ServiceConnected bool
	ServiceProbeID   uint64
	ServiceLastError string

	CurrentPage Page

	Accounts     []models.Account
	Usage        []models.UsageSnapshot
	APIKeys      []models.APIKey
	ModelOptions []models.ModelOption

	RequestLogs            []models.RequestLogEntry
	RequestLogQuery        string
	RequestLogStatusFilter string
	TodaySummary           models.RequestLogTodaySummary

	AccountSearch            string
	AccountFilter            string
	AccountGroupFilter       string
	ManualPreferredAccountID string
	CurrentUsageAccountID    string

	ActiveLoginID string

	LastUpdated time.Time
}

// Store coordinates concurrent access to the snapshot. All mutation goes
// through named methods; readers get copies.
type Store struct {
	mu   sync.RWMutex
	snap Snapshot

	logGeneration     uint64
	autoRefreshCancel func()
}

// New returns a store with the given initial service addr.
func New(addr string) *Store {
	return &Store{snap: Snapshot{ServiceAddr: addr, CurrentPage: PageDashboard}}
}

// Snapshot returns an independent copy of the current state.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := s.snap
	snap.Accounts = cloneSlice(s.snap.Accounts)
	snap.Usage = cloneSlice(s.snap.Usage)
	snap.APIKeys = cloneSlice(s.snap.APIKeys)
	snap.ModelOptions = cloneSlice(s.snap.ModelOptions)
	snap.RequestLogs = cloneSlice(s.snap.RequestLogs)
	return snap
}

// ServiceAddr returns the current normalized service address.
func (s *Store) ServiceAddr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.ServiceAddr
}

// SetServiceAddr records a new service address.
func (s *Store) SetServiceAddr(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.ServiceAddr = addr
}

// MarkConnected records a successful probe and advances the probe id.
// It returns the new probe id.
func (s *Store) MarkConnected() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.ServiceConnected = true
	s.snap.ServiceLastError = ""
	s.snap.ServiceProbeID++
	return s.snap.ServiceProbeID
}

// MarkDisconnected records a failed probe. The probe id is left alone so
// settings synced to the previous connection stay marked until the next
// successful handshake.
func (s *Store) MarkDisconnected(lastError string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.ServiceConnected = false
	s.snap.ServiceLastError = lastError
}

// Connected reports current reachability.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.ServiceConnected
}

// ProbeID returns the current probe id.
func (s *Store) ProbeID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.ServiceProbeID
}

// SetCurrentPage records the active view.
func (s *Store) SetCurrentPage(p Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.CurrentPage = p
}

// CurrentPage returns the active view.
func (s *Store) CurrentPage() Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.CurrentPage
}

// SetAccounts replaces the cached account list.
func (s *Store) SetAccounts(accounts []models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Accounts = cloneSlice(accounts)
	s.snap.LastUpdated = time.Now()
}

// SetUsage replaces the cached usage snapshots.
func (s *Store) SetUsage(usage []models.UsageSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Usage = cloneSlice(usage)
	s.snap.LastUpdated = time.Now()
}

// SetAPIKeys replaces the cached key list.
func (s *Store) SetAPIKeys(keys []models.APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.APIKeys = cloneSlice(keys)
	s.snap.LastUpdated = time.Now()
}

// SetModelOptions replaces the cached model options.
func (s *Store) SetModelOptions(options []models.ModelOption) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.ModelOptions = cloneSlice(options)
}

// SetTodaySummary replaces today's traffic summary.
func (s *Store) SetTodaySummary(summary models.RequestLogTodaySummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.TodaySummary = summary
}

// BeginLogFetch registers a new request-log fetch and returns its
// generation. A later ApplyRequestLogs call only lands if no newer fetch
// started in between.
func (s *Store) BeginLogFetch(query, statusFilter string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logGeneration++
	s.snap.RequestLogQuery = query
	s.snap.RequestLogStatusFilter = statusFilter
	return s.logGeneration
}

// ApplyRequestLogs installs fetched entries for the given generation and
// reports whether they were applied. Stale generations are dropped.
func (s *Store) ApplyRequestLogs(generation uint64, entries []models.RequestLogEntry) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.logGeneration {
		return false
	}
	s.snap.RequestLogs = cloneSlice(entries)
	s.snap.LastUpdated = time.Now()
	return true
}

// SetAccountFilters records the account list filters.
func (s *Store) SetAccountFilters(search, filter, groupFilter string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.AccountSearch = search
	s.snap.AccountFilter = filter
	s.snap.AccountGroupFilter = groupFilter
}

// SetManualPreferredAccount records the operator's pinned account.
func (s *Store) SetManualPreferredAccount(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.ManualPreferredAccountID = id
}

// SetCurrentUsageAccount records the account whose usage detail is open.
func (s *Store) SetCurrentUsageAccount(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.CurrentUsageAccountID = id
}

// SetActiveLoginID records the in-flight login attempt, empty when none.
func (s *Store) SetActiveLoginID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.ActiveLoginID = id
}

// ActiveLoginID returns the in-flight login attempt id.
func (s *Store) ActiveLoginID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.ActiveLoginID
}

// SetAutoRefreshStop installs the stop handle for the auto-refresh timer,
// stopping any previous one first. At most one timer runs per store.
func (s *Store) SetAutoRefreshStop(stop func()) {
	s.mu.Lock()
	prev := s.autoRefreshCancel
	s.autoRefreshCancel = stop
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// StopAutoRefresh stops the auto-refresh timer if one is running.
func (s *Store) StopAutoRefresh() {
	s.SetAutoRefreshStop(nil)
}

func cloneSlice[T any](items []T) []T {
	if len(items) == 0 {
		return nil
	}
	dup := make([]T, len(items))
	copy(dup, items)
	return dup
}
