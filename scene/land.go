package scene

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"presencecore/collab"
	"presencecore/geom"
	"presencecore/presence"
)

// ParcelGrid is a reference collab.LandChannel: a set of rectangular
// parcels on a flat region grid, with a ban list per parcel.
type ParcelGrid struct {
	mu      sync.RWMutex
	parcels []gridParcel
	bans    map[collab.LocalID]map[collab.PresenceID]bool
}

type gridParcel struct {
	collab.Parcel
	MinX, MinY, MaxX, MaxY float64
}

// NewParcelGrid constructs an empty grid; use AddParcel to populate it.
func NewParcelGrid() *ParcelGrid {
	return &ParcelGrid{bans: make(map[collab.LocalID]map[collab.PresenceID]bool)}
}

// AddParcel registers a rectangular parcel spanning [minX,maxX)x[minY,maxY).
func (g *ParcelGrid) AddParcel(parcel collab.Parcel, minX, minY, maxX, maxY float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.parcels = append(g.parcels, gridParcel{Parcel: parcel, MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY})
}

// Ban marks presence as banned from parcel.
func (g *ParcelGrid) Ban(parcel collab.LocalID, presence collab.PresenceID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.bans[parcel] == nil {
		g.bans[parcel] = make(map[collab.PresenceID]bool)
	}
	g.bans[parcel][presence] = true
}

// LandObjectAt implements collab.LandChannel by scanning for the parcel
// containing (x, y); grids are small enough in a single region that a
// linear scan is cheap (spec.md §4.1 non-goal: no spatial index).
func (g *ParcelGrid) LandObjectAt(ctx context.Context, x, y float64) (collab.Parcel, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, p := range g.parcels {
		if x >= p.MinX && x < p.MaxX && y >= p.MinY && y < p.MaxY {
			return p.Parcel, nil
		}
	}
	return collab.Parcel{}, fmt.Errorf("scene: no parcel at (%.1f, %.1f)", x, y)
}

// IsBanned implements collab.LandChannel.
func (g *ParcelGrid) IsBanned(ctx context.Context, parcel collab.LocalID, presenceID collab.PresenceID) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.bans[parcel][presenceID], nil
}

var _ collab.LandChannel = (*ParcelGrid)(nil)

// TelehubFile is the YAML shape of a region's telehub/landing-point
// config file (config.RegionConfig.TelehubConfigFile), one entry keyed
// by region name.
type TelehubFile struct {
	Regions map[string]TelehubEntry `yaml:"regions"`
}

// TelehubEntry describes one region's telehub: its routing mode and
// spawn points.
type TelehubEntry struct {
	Mode        string     `yaml:"mode"`
	SpawnPoints [][3]float64 `yaml:"spawn_points"`
}

// LoadTelehubs reads and parses a telehub config file into a map of
// region name to *presence.Telehub, mirroring the teacher's
// LoadNamedWorldIntoSession's read-then-yaml.Unmarshal pattern.
func LoadTelehubs(path string) (map[string]*presence.Telehub, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scene: read telehub config %s: %w", path, err)
	}

	var file TelehubFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("scene: parse telehub config %s: %w", path, err)
	}

	hubs := make(map[string]*presence.Telehub, len(file.Regions))
	for name, entry := range file.Regions {
		mode, err := parseTelehubMode(entry.Mode)
		if err != nil {
			return nil, fmt.Errorf("scene: region %q: %w", name, err)
		}
		points := make([]geom.Vec, len(entry.SpawnPoints))
		for i, p := range entry.SpawnPoints {
			points[i] = geom.Vec{X: p[0], Y: p[1], Z: p[2]}
		}
		hubs[name] = &presence.Telehub{Mode: mode, SpawnPoints: points}
	}
	return hubs, nil
}

func parseTelehubMode(mode string) (presence.TelehubMode, error) {
	switch mode {
	case "", "random":
		return presence.TelehubRandom, nil
	case "sequence":
		return presence.TelehubSequence, nil
	case "closest":
		return presence.TelehubClosest, nil
	default:
		return 0, fmt.Errorf("unknown telehub mode %q", mode)
	}
}

// WithBanCheck builds a presence.LandPermissionChecker backed by land,
// for wiring a Telehub's Permitted field to a ParcelGrid's ban list via
// the parcel found at each spawn point.
func WithBanCheck(ctx context.Context, land collab.LandChannel, presenceID collab.PresenceID) presence.LandPermissionChecker {
	return func(_ context.Context, pos geom.Vec) bool {
		parcel, err := land.LandObjectAt(ctx, pos.X, pos.Y)
		if err != nil {
			return true
		}
		banned, err := land.IsBanned(ctx, parcel.ID, presenceID)
		if err != nil {
			return true
		}
		return !banned
	}
}
