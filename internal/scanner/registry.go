package scanner

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// scanIDPattern validates scan IDs (alphanumeric, underscores, hyphens)
var scanIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ScanFunc is one sub-scan executed by the scanner when its cadence is due
type ScanFunc func(ctx context.Context, now time.Time) error

// Scan is a registered sub-scan with its own cadence. The scanner's tick
// is the finest granularity; a cron spec coarser than the tick (digests,
// cleanup passes) simply skips intermediate ticks.
type Scan struct {
	// ID is a unique identifier for the scan
	ID string

	// Cron expression (standard 5-field: minute hour day month weekday)
	// controlling how often the scan runs
	Cron string

	// Run executes the scan
	Run ScanFunc

	// Enabled flag (allows disabling without removing)
	Enabled bool

	// Description for logging/monitoring
	Description string
}

// Registry stores the scanner's sub-scans and tracks when each last ran
type Registry struct {
	mu      sync.RWMutex
	scans   map[string]*Scan
	order   []string
	lastRun map[string]time.Time
	parser  cron.Parser
}

// NewRegistry creates a new scan registry
func NewRegistry() *Registry {
	return &Registry{
		scans:   make(map[string]*Scan),
		lastRun: make(map[string]time.Time),
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Register adds a scan to the registry
func (r *Registry) Register(scan *Scan) error {
	if err := r.validate(scan); err != nil {
		return fmt.Errorf("invalid scan: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.scans[scan.ID]; exists {
		return fmt.Errorf("scan with ID %s already exists", scan.ID)
	}

	r.scans[scan.ID] = scan
	r.order = append(r.order, scan.ID)
	return nil
}

// MustRegister registers a scan, panicking on error.
// Useful for initialization-time registration.
func (r *Registry) MustRegister(scan *Scan) {
	if err := r.Register(scan); err != nil {
		panic(fmt.Sprintf("failed to register scan: %v", err))
	}
}

// Get retrieves a scan by ID
func (r *Registry) Get(id string) (*Scan, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, exists := r.scans[id]
	return s, exists
}

// List returns all registered scans in registration order
func (r *Registry) List() []*Scan {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scans := make([]*Scan, 0, len(r.order))
	for _, id := range r.order {
		scans = append(scans, r.scans[id])
	}
	return scans
}

// Count returns the number of registered scans
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scans)
}

// Due reports whether the scan's cadence has a firing at or before now,
// relative to its last recorded run. A scan that has never run is due
// immediately.
func (r *Registry) Due(id string, now time.Time) bool {
	r.mu.RLock()
	scan, exists := r.scans[id]
	last, ran := r.lastRun[id]
	r.mu.RUnlock()

	if !exists || !scan.Enabled {
		return false
	}
	if !ran {
		return true
	}

	spec, err := r.parser.Parse(scan.Cron)
	if err != nil {
		return false
	}
	return !spec.Next(last).After(now)
}

// MarkRun records that the scan ran at the given time
func (r *Registry) MarkRun(id string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastRun[id] = at
}

// LastRun returns when the scan last ran (zero time if never)
func (r *Registry) LastRun(id string) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastRun[id]
}

// validate validates a scan definition
func (r *Registry) validate(scan *Scan) error {
	if scan.ID == "" {
		return fmt.Errorf("scan ID cannot be empty")
	}
	if !scanIDPattern.MatchString(scan.ID) {
		return fmt.Errorf("scan ID must contain only alphanumeric characters, underscores, and hyphens")
	}

	if scan.Cron == "" {
		return fmt.Errorf("cron expression cannot be empty")
	}
	if _, err := r.parser.Parse(scan.Cron); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", scan.Cron, err)
	}

	if scan.Run == nil {
		return fmt.Errorf("scan function cannot be nil")
	}

	return nil
}
