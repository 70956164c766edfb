package journal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/savegress/labsync/internal/config"
	"github.com/savegress/labsync/pkg/models"
)

// Journal keeps an in-memory record of every message LabSync generated or
// received. Entries beyond MaxEntries are evicted oldest first.
type Journal struct {
	config  *config.JournalConfig
	entries map[string]*models.JournalEntry
	order   []string
	mu      sync.RWMutex

	// stateMu guards running and is held for reading while Record hands an
	// entry to the writer, so Stop cannot slip in between.
	stateMu sync.RWMutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	entryCh chan *models.JournalEntry
}

// New creates a new journal
func New(cfg *config.JournalConfig) *Journal {
	return &Journal{
		config:  cfg,
		entries: make(map[string]*models.JournalEntry),
		entryCh: make(chan *models.JournalEntry, 1000),
	}
}

// Start starts the journal writer
func (j *Journal) Start(ctx context.Context) error {
	j.stateMu.Lock()
	defer j.stateMu.Unlock()
	if j.running {
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})

	go j.processEntries(ctx, j.stopCh, j.doneCh)
	return nil
}

// Stop stops the journal writer and stores every entry still queued. Entries
// recorded afterwards are stored synchronously.
func (j *Journal) Stop() {
	j.stateMu.Lock()
	defer j.stateMu.Unlock()
	if !j.running {
		return
	}
	j.running = false
	close(j.stopCh)
	<-j.doneCh
	j.drain()
}

func (j *Journal) processEntries(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			j.drain()
			return
		case <-stop:
			return
		case entry := <-j.entryCh:
			j.mu.Lock()
			j.store(entry)
			j.mu.Unlock()
		}
	}
}

func (j *Journal) drain() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for {
		select {
		case entry := <-j.entryCh:
			j.store(entry)
		default:
			return
		}
	}
}

// store must be called with mu held.
func (j *Journal) store(entry *models.JournalEntry) {
	j.entries[entry.ID] = entry
	j.order = append(j.order, entry.ID)

	if limit := j.config.MaxEntries; limit > 0 {
		for len(j.order) > limit {
			delete(j.entries, j.order[0])
			j.order = j.order[1:]
		}
	}
}

// RecordRequest describes a message to journal
type RecordRequest struct {
	Direction    models.Direction
	Source       string // api, serial
	Raw          string
	Framed       bool
	RecordCounts map[string]int
	Err          error
}

// Record journals a message and returns the entry, or nil when the journal
// is disabled.
func (j *Journal) Record(ctx context.Context, req *RecordRequest) *models.JournalEntry {
	if !j.config.Enabled {
		return nil
	}

	entry := &models.JournalEntry{
		ID:           uuid.New().String(),
		Direction:    req.Direction,
		Source:       req.Source,
		Raw:          req.Raw,
		Framed:       req.Framed,
		RecordCounts: req.RecordCounts,
		CreatedAt:    time.Now(),
	}
	if req.Err != nil {
		entry.Error = req.Err.Error()
	}

	j.stateMu.RLock()
	defer j.stateMu.RUnlock()
	if j.running {
		select {
		case <-j.doneCh:
		default:
			select {
			case j.entryCh <- entry:
				return entry
			case <-j.doneCh:
			case <-ctx.Done():
			}
		}
	}

	j.mu.Lock()
	j.store(entry)
	j.mu.Unlock()
	return entry
}

// Get retrieves an entry by ID
func (j *Journal) Get(id string) (*models.JournalEntry, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	entry, ok := j.entries[id]
	return entry, ok
}

// Filter defines filters for entry queries
type Filter struct {
	Direction models.Direction
	Source    string
	Failed    *bool
	Since     *time.Time
	Limit     int
}

// List returns matching entries, newest first.
func (j *Journal) List(filter Filter) []*models.JournalEntry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	results := make([]*models.JournalEntry, 0)
	for i := len(j.order) - 1; i >= 0; i-- {
		entry := j.entries[j.order[i]]
		if !matchesFilter(entry, filter) {
			continue
		}
		results = append(results, entry)
		if filter.Limit > 0 && len(results) == filter.Limit {
			break
		}
	}
	return results
}

func matchesFilter(entry *models.JournalEntry, filter Filter) bool {
	if filter.Direction != "" && entry.Direction != filter.Direction {
		return false
	}
	if filter.Source != "" && entry.Source != filter.Source {
		return false
	}
	if filter.Failed != nil && (entry.Error != "") != *filter.Failed {
		return false
	}
	if filter.Since != nil && entry.CreatedAt.Before(*filter.Since) {
		return false
	}
	return true
}

// Stats returns journal statistics
func (j *Journal) Stats() *Stats {
	j.mu.RLock()
	defer j.mu.RUnlock()

	stats := &Stats{
		ByDirection:  make(map[string]int),
		BySource:     make(map[string]int),
		ByRecordType: make(map[string]int),
	}

	for _, entry := range j.entries {
		stats.TotalEntries++
		stats.ByDirection[string(entry.Direction)]++
		stats.BySource[entry.Source]++
		for t, n := range entry.RecordCounts {
			stats.ByRecordType[t] += n
		}
		if entry.Error != "" {
			stats.FailedEntries++
		}
	}

	return stats
}

// Stats contains journal statistics
type Stats struct {
	TotalEntries  int            `json:"total_entries"`
	FailedEntries int            `json:"failed_entries"`
	ByDirection   map[string]int `json:"by_direction"`
	BySource      map[string]int `json:"by_source"`
	ByRecordType  map[string]int `json:"by_record_type"`
}
