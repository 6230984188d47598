// Package preferences stores explicit stock sizing preferences keyed by
// material and geometry type. Unlike the feedback history, which learns
// passively, a preference is a value the user asked to keep: "for
// aluminum pocket work, always leave 8mm in XY". Lookups that find no
// stored preference fall back to built-in defaults with the source
// attributed, so callers can always tell a remembered value from a
// default one.
package preferences

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// Built-in stock sizing defaults, applied when no stored preference
// exists and for fields a saved preference leaves unset.
const (
	DefaultOffsetXYMM = 5.0
	DefaultOffsetZMM  = 2.5
	DefaultStockShape = "rectangular"
)

// Common errors for preference operations.
var (
	ErrEmptyMaterial     = errors.New("material cannot be empty")
	ErrEmptyGeometryType = errors.New("geometry type cannot be empty")
	ErrNegativeOffset    = errors.New("stock offsets cannot be negative")
)

// Source attributes where a resolved preference came from.
type Source string

const (
	// SourceUserPreference means the values were stored by the user.
	SourceUserPreference Source = "user_preference"

	// SourceDefault means no stored preference existed and the built-in
	// defaults apply.
	SourceDefault Source = "default"
)

// StockPreference is the full stock sizing profile for one material and
// geometry pair.
type StockPreference struct {
	ID int64 `json:"id,omitempty"`

	// Material is the normalized material key.
	Material string `json:"material"`

	// GeometryType is the normalized geometry classification, usually
	// produced by Classify.
	GeometryType string `json:"geometry_type"`

	// OffsetXYMM is the stock margin around the part in X and Y.
	OffsetXYMM float64 `json:"offsets_xy_mm"`

	// OffsetZMM is the stock margin above and below the part.
	OffsetZMM float64 `json:"offsets_z_mm"`

	// PreferredOrientation is the part orientation the user prefers,
	// empty when they have not expressed one.
	PreferredOrientation string `json:"preferred_orientation,omitempty"`

	// StockShape is the raw stock form, e.g. "rectangular" or "round".
	StockShape string `json:"stock_shape"`

	// MachiningAllowanceMM is the finishing allowance to leave on all
	// faces. Nil when the user has not set one.
	MachiningAllowanceMM *float64 `json:"machining_allowance_mm,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Defaults returns the built-in preference profile for a material and
// geometry pair.
func Defaults(material, geometryType string) *StockPreference {
	return &StockPreference{
		Material:     NormalizeKey(material),
		GeometryType: NormalizeKey(geometryType),
		OffsetXYMM:   DefaultOffsetXYMM,
		OffsetZMM:    DefaultOffsetZMM,
		StockShape:   DefaultStockShape,
	}
}

// Validate checks the fields a store requires before any write attempt.
func (p *StockPreference) Validate() error {
	if strings.TrimSpace(p.Material) == "" {
		return ErrEmptyMaterial
	}
	if strings.TrimSpace(p.GeometryType) == "" {
		return ErrEmptyGeometryType
	}
	if p.OffsetXYMM < 0 || p.OffsetZMM < 0 {
		return ErrNegativeOffset
	}
	if p.MachiningAllowanceMM != nil && *p.MachiningAllowanceMM < 0 {
		return ErrNegativeOffset
	}
	return nil
}

// ApplyDefaults fills unset sizing fields the way the built-in profile
// would. A zero offset means "use the default", matching the schema
// defaults applied when a column is omitted.
func (p *StockPreference) ApplyDefaults() {
	if p.OffsetXYMM == 0 {
		p.OffsetXYMM = DefaultOffsetXYMM
	}
	if p.OffsetZMM == 0 {
		p.OffsetZMM = DefaultOffsetZMM
	}
	if strings.TrimSpace(p.StockShape) == "" {
		p.StockShape = DefaultStockShape
	}
}

// Store persists stock preferences keyed by (material, geometry type).
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the stored preference for the pair, or (nil, nil)
	// when none exists. Callers fall back to Defaults in that case.
	Get(ctx context.Context, material, geometryType string) (*StockPreference, error)

	// Save upserts p under its (material, geometry type) key. Keys are
	// normalized and unset sizing fields receive the built-in defaults
	// before the write.
	Save(ctx context.Context, p *StockPreference) error

	// List returns all stored preferences ordered by material, then
	// geometry type.
	List(ctx context.Context) ([]StockPreference, error)
}

// NormalizeKey lower-cases and trims a material or geometry key so that
// stored preferences and lookups agree on spelling.
func NormalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

type prefKey struct {
	material string
	geometry string
}

// MemStore is an in-memory Store used by tests and as the fallback when
// persistent storage cannot be opened.
type MemStore struct {
	mu     sync.RWMutex
	prefs  map[prefKey]StockPreference
	nextID int64
}

// NewMemStore creates an empty in-memory preference store.
func NewMemStore() *MemStore {
	return &MemStore{prefs: make(map[prefKey]StockPreference), nextID: 1}
}

// Get returns the stored preference, or (nil, nil) when absent.
func (s *MemStore) Get(ctx context.Context, material, geometryType string) (*StockPreference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prefs[prefKey{NormalizeKey(material), NormalizeKey(geometryType)}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// Save upserts p, preserving CreatedAt across replacements.
func (s *MemStore) Save(ctx context.Context, p *StockPreference) error {
	p.Material = NormalizeKey(p.Material)
	p.GeometryType = NormalizeKey(p.GeometryType)
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := prefKey{p.Material, p.GeometryType}
	if existing, ok := s.prefs[key]; ok {
		p.ID = existing.ID
		p.CreatedAt = existing.CreatedAt
	} else {
		p.ID = s.nextID
		s.nextID++
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.prefs[key] = *p
	return nil
}

// List returns all preferences ordered by material, then geometry type.
func (s *MemStore) List(ctx context.Context) ([]StockPreference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]StockPreference, 0, len(s.prefs))
	for _, p := range s.prefs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Material != out[j].Material {
			return out[i].Material < out[j].Material
		}
		return out[i].GeometryType < out[j].GeometryType
	})
	return out, nil
}
