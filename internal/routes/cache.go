// Package routes holds the per-line route geometries used to enrich vehicle
// positions: direction inference against the nearest polyline and terminal
// lookup against polyline endpoints.
//
// The in-memory index is replaced wholesale on every reload; readers always
// see either the previous complete index or the new complete index.
package routes

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"vehicle-tracker/internal/geo"
)

// Geometry is one directional variant of a line. Parts holds one or more
// disjoint polylines, each an ordered vertex sequence.
type Geometry struct {
	LineID    string
	Direction string
	RouteID   string
	RouteName string
	Enabled   bool
	Parts     [][]geo.Point
}

func (g Geometry) empty() bool {
	for _, p := range g.Parts {
		if len(p) > 0 {
			return false
		}
	}
	return true
}

// Source returns the full current set of route geometries.
type Source interface {
	Load(ctx context.Context) ([]Geometry, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]Geometry, error)

func (f SourceFunc) Load(ctx context.Context) ([]Geometry, error) { return f(ctx) }

type index struct {
	byLine    map[string][]Geometry
	terminals map[string]*terminalIndex
	rows      int
	loadedAt  time.Time
}

// ReloadObserver receives the outcome of every reload.
type ReloadObserver interface {
	GeometryReloaded(lines, rows int, d time.Duration, err error)
}

type Cache struct {
	src      Source
	observer ReloadObserver

	current atomic.Pointer[index]
	// reloads are serialised so an older, slower reload cannot overwrite a newer one
	reloadMu sync.Mutex

	refreshCancel context.CancelFunc
	refreshWG     sync.WaitGroup
}

func NewCache(src Source, observer ReloadObserver) *Cache {
	return &Cache{src: src, observer: observer}
}

// Reload fetches every enabled geometry from the source and atomically
// replaces the index. On error the previous index stays in place.
func (c *Cache) Reload(ctx context.Context) error {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	start := time.Now()
	rows, err := c.src.Load(ctx)
	if err != nil {
		err = fmt.Errorf("load route geometries: %w", err)
		c.observe(0, 0, time.Since(start), err)
		return err
	}

	idx := &index{
		byLine:    make(map[string][]Geometry),
		terminals: make(map[string]*terminalIndex),
		loadedAt:  time.Now(),
	}
	skipped := 0
	for _, g := range rows {
		if !g.Enabled || g.LineID == "" || g.empty() {
			skipped++
			continue
		}
		idx.byLine[g.LineID] = append(idx.byLine[g.LineID], g)
		idx.rows++
	}
	for line, geoms := range idx.byLine {
		idx.terminals[line] = buildTerminalIndex(geoms)
	}
	c.current.Store(idx)

	d := time.Since(start)
	log.Info().
		Int("lines", len(idx.byLine)).
		Int("rows", idx.rows).
		Int("skipped", skipped).
		Str("took", d.String()).
		Msg("route geometries loaded")
	c.observe(len(idx.byLine), idx.rows, d, nil)
	return nil
}

func (c *Cache) observe(lines, rows int, d time.Duration, err error) {
	if c.observer != nil {
		c.observer.GeometryReloaded(lines, rows, d, err)
	}
}

// IsLoaded reports whether at least one reload has succeeded.
func (c *Cache) IsLoaded() bool {
	return c.current.Load() != nil
}

// ByLine returns the candidate directions for a line in load order. The
// slice is shared and must not be modified.
func (c *Cache) ByLine(line string) []Geometry {
	idx := c.current.Load()
	if idx == nil {
		return nil
	}
	return idx.byLine[line]
}

// Lines returns the loaded line ids, sorted.
func (c *Cache) Lines() []string {
	idx := c.current.Load()
	if idx == nil {
		return nil
	}
	out := make([]string, 0, len(idx.byLine))
	for line := range idx.byLine {
		out = append(out, line)
	}
	sort.Strings(out)
	return out
}

// LoadedAt is the completion time of the last successful reload.
func (c *Cache) LoadedAt() time.Time {
	idx := c.current.Load()
	if idx == nil {
		return time.Time{}
	}
	return idx.loadedAt
}

// StartRefresher reloads on a fixed interval until ctx is cancelled or Stop
// is called. A failed reload is logged and retried on the next tick.
func (c *Cache) StartRefresher(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	rctx, cancel := context.WithCancel(ctx)
	c.refreshCancel = cancel
	c.refreshWG.Add(1)
	go func() {
		defer c.refreshWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-rctx.Done():
				return
			case <-ticker.C:
			}
			lctx, lcancel := context.WithTimeout(rctx, 2*time.Minute)
			if err := c.Reload(lctx); err != nil {
				log.Error().Err(err).Msg("route geometry refresh failed; keeping previous index")
			}
			lcancel()
		}
	}()
}

func (c *Cache) Stop() {
	if c.refreshCancel != nil {
		c.refreshCancel()
	}
	c.refreshWG.Wait()
}
