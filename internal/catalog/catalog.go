package catalog

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/viper"
	"github.com/therealutkarshpriyadarshi/delivery/pkg/models"
)

// ErrNotFound is returned when a scoped catalog was never initialized
var ErrNotFound = errors.New("catalog not found")

// Catalog holds an immutable quality ladder, sorted highest bitrate first
type Catalog struct {
	levels    []models.QualityLevel
	defaultID string
}

// ListOptions filters catalog listings
type ListOptions struct {
	DeviceClass  string
	MaxBandwidth int64 // bps ceiling; 0 means no ceiling
}

// New builds a catalog from a set of quality levels and validates the
// ladder invariants: at least one level, exactly one default, and bitrates
// that increase with resolution rank. Violations are configuration errors
// and fatal at startup.
func New(levels []models.QualityLevel) (*Catalog, error) {
	if len(levels) == 0 {
		return nil, fmt.Errorf("quality catalog is empty")
	}

	sorted := make([]models.QualityLevel, len(levels))
	copy(sorted, levels)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Bitrate > sorted[j].Bitrate
	})

	defaultID := ""
	for _, lvl := range sorted {
		if lvl.ID == "" {
			return nil, fmt.Errorf("quality level with bitrate %d has no id", lvl.Bitrate)
		}
		if lvl.Bitrate <= 0 {
			return nil, fmt.Errorf("quality level %q has non-positive bitrate", lvl.ID)
		}
		if lvl.IsDefault {
			if defaultID != "" {
				return nil, fmt.Errorf("multiple default quality levels: %q and %q", defaultID, lvl.ID)
			}
			defaultID = lvl.ID
		}
	}
	if defaultID == "" {
		return nil, fmt.Errorf("quality catalog has no default level")
	}

	// Higher bitrate must never come with a lower resolution rank.
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Height > sorted[i-1].Height {
			return nil, fmt.Errorf("quality level %q (%dp) has higher resolution than %q (%dp) despite lower bitrate",
				sorted[i].ID, sorted[i].Height, sorted[i-1].ID, sorted[i-1].Height)
		}
	}

	return &Catalog{levels: sorted, defaultID: defaultID}, nil
}

// DefaultLevels returns the built-in quality ladder used when no catalog
// file is configured
func DefaultLevels() []models.QualityLevel {
	return []models.QualityLevel{
		{ID: "2160p", Label: "4K Ultra HD", Width: 3840, Height: 2160, Bitrate: 8_000_000, FrameRate: 30, Codec: "h265", DeviceClasses: []string{models.DeviceClassDesktop, models.DeviceClassTV}},
		{ID: "1080p", Label: "Full HD", Width: 1920, Height: 1080, Bitrate: 5_000_000, FrameRate: 30, Codec: "h264"},
		{ID: "720p", Label: "HD", Width: 1280, Height: 720, Bitrate: 2_500_000, FrameRate: 30, Codec: "h264", IsDefault: true},
		{ID: "480p", Label: "SD", Width: 854, Height: 480, Bitrate: 1_200_000, FrameRate: 30, Codec: "h264"},
		{ID: "360p", Label: "Low", Width: 640, Height: 360, Bitrate: 800_000, FrameRate: 30, Codec: "h264"},
	}
}

// List returns quality levels matching the options, highest bitrate first.
// The returned slice is a copy; mutating it does not affect the catalog.
func (c *Catalog) List(opts ListOptions) []models.QualityLevel {
	out := make([]models.QualityLevel, 0, len(c.levels))
	for _, lvl := range c.levels {
		if opts.DeviceClass != "" && !lvl.SupportsDevice(opts.DeviceClass) {
			continue
		}
		if opts.MaxBandwidth > 0 && lvl.Bitrate > opts.MaxBandwidth {
			continue
		}
		out = append(out, lvl)
	}
	return out
}

// Levels returns all quality levels, highest bitrate first
func (c *Catalog) Levels() []models.QualityLevel {
	return c.List(ListOptions{})
}

// Default returns the catalog's default quality level
func (c *Catalog) Default() models.QualityLevel {
	lvl, _ := c.ByID(c.defaultID)
	return lvl
}

// ByID looks up a quality level by identifier
func (c *Catalog) ByID(id string) (models.QualityLevel, bool) {
	for _, lvl := range c.levels {
		if lvl.ID == id {
			return lvl, true
		}
	}
	return models.QualityLevel{}, false
}

// Lowest returns the lowest-bitrate level in the catalog
func (c *Catalog) Lowest() models.QualityLevel {
	return c.levels[len(c.levels)-1]
}

// RungDistance returns the number of ladder rungs between two levels.
// Unknown identifiers count as the full ladder height, so a transition
// involving one is always treated as a large swing.
func (c *Catalog) RungDistance(fromID, toID string) int {
	fromIdx, toIdx := -1, -1
	for i, lvl := range c.levels {
		if lvl.ID == fromID {
			fromIdx = i
		}
		if lvl.ID == toID {
			toIdx = i
		}
	}
	if fromIdx < 0 || toIdx < 0 {
		return len(c.levels)
	}
	d := fromIdx - toIdx
	if d < 0 {
		return -d
	}
	return d
}

// Store owns the per-scope catalogs plus the guaranteed global fallback.
// The fallback catalog is constructed at process start, so scope lookups
// always succeed.
type Store struct {
	mu       sync.RWMutex
	scopes   map[string]*Catalog
	fallback *Catalog
}

// NewStore creates a catalog store with the given fallback catalog
func NewStore(fallback *Catalog) *Store {
	return &Store{
		scopes:   make(map[string]*Catalog),
		fallback: fallback,
	}
}

// SetScope installs a catalog for a stream scope
func (s *Store) SetScope(scopeID string, c *Catalog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[scopeID] = c
}

// HasScope reports whether a dedicated catalog exists for the scope
func (s *Store) HasScope(scopeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.scopes[scopeID]
	return ok
}

// ForScope returns the catalog for a scope, falling back to the global
// default catalog when the scope was never initialized
func (s *Store) ForScope(scopeID string) *Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.scopes[scopeID]; ok {
		return c
	}
	return s.fallback
}

// LoadFile reads a quality ladder from a YAML file with a top-level
// "levels" key
func LoadFile(path string) (*Catalog, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var levels []models.QualityLevel
	if err := v.UnmarshalKey("levels", &levels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal catalog file: %w", err)
	}

	return New(levels)
}
