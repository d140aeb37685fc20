// Package main is the presenced daemon entry point: a single region
// process hosting the Avatar Presence Core. It follows the teacher's
// startup sequence — Config → Logging → Hub (here: registry + worker
// pool) → Router → Server — trimmed to what a presence core region
// needs.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"presencecore/collab"
	"presencecore/config"
	"presencecore/grid"
	"presencecore/logging"
	"presencecore/presence"
	"presencecore/router"
	"presencecore/scene"
	"presencecore/transport"
	"presencecore/worker"
)

// presenceRegistry is the process-wide directory of live Orchestrators,
// mirroring the teacher's AvatarRegistry (mutex-guarded map, snapshot
// reads), but keyed by collab.PresenceID and storing Orchestrators
// rather than raw Avatar records.
type presenceRegistry struct {
	mu   sync.RWMutex
	byID map[collab.PresenceID]*presence.Orchestrator
}

func newPresenceRegistry() *presenceRegistry {
	return &presenceRegistry{byID: make(map[collab.PresenceID]*presence.Orchestrator)}
}

func (r *presenceRegistry) Put(id collab.PresenceID, orch *presence.Orchestrator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = orch
}

func (r *presenceRegistry) Remove(id collab.PresenceID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

func (r *presenceRegistry) Orchestrators() map[collab.PresenceID]*presence.Orchestrator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[collab.PresenceID]*presence.Orchestrator, len(r.byID))
	for id, orch := range r.byID {
		out[id] = orch
	}
	return out
}

func (r *presenceRegistry) Orchestrator(id collab.PresenceID) (*presence.Orchestrator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	orch, ok := r.byID[id]
	return orch, ok
}

var _ router.Registry = (*presenceRegistry)(nil)

func main() {
	help := flag.Bool("help", false, "show help message")
	cfg, err := config.Initialize()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: configuration initialization failed: %v\n", err)
		os.Exit(1)
	}

	if *help {
		displayHelp(cfg)
		return
	}

	if err := logging.Apply(logging.Config{Level: cfg.LogLevel, LogDir: cfg.LogDir}); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	if cfg.Grid.BearerSecret == "" {
		logging.Warn("grid bearer secret not configured, neighbour token verification will reject everything", nil)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := worker.New(ctx, 4, 256)
	defer pool.Close()

	land := scene.NewParcelGrid()
	sceneImpl := scene.NewInMemoryScene(0, land)

	gridSvc := grid.NewService(staticRegionResolver{}, []byte(cfg.Grid.BearerSecret))

	wsSink := transport.NewWebSocketSink(cfg.WebSocket)
	rtcSink := transport.NewWebRTCSink()

	registry := newPresenceRegistry()

	r := mux.NewRouter()
	r.HandleFunc("/presences/join", handleJoin(registry, sceneImpl, land, wsSink, gridSvc, pool, cfg)).Methods("POST")
	router.SetupRoutes(r, registry, wsSink, rtcSink, gridSvc)

	logging.Info("presencecore daemon starting", map[string]interface{}{
		"host": cfg.Host,
		"port": cfg.Port,
	})
	logging.Info("component configuration", map[string]interface{}{
		"min_draw_distance": cfg.Region.MinDrawDistance,
		"max_draw_distance": cfg.Region.MaxDrawDistance,
		"legacy_sit_offset": cfg.Region.LegacySitOffset,
		"telehub_config":    cfg.Region.TelehubConfigFile,
	})

	if hubs, err := scene.LoadTelehubs(cfg.Region.TelehubConfigFile); err != nil {
		logging.Warn("telehub config not loaded, local teleports will never be redirected", map[string]interface{}{
			"path":  cfg.Region.TelehubConfigFile,
			"error": err.Error(),
		})
	} else {
		logging.Info("telehub config loaded", map[string]interface{}{"regions": len(hubs)})
	}

	bindAddr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
	logging.Info("server binding to address", map[string]interface{}{"address": bindAddr})
	if err := http.ListenAndServe(bindAddr, r); err != nil {
		logging.Fatal("server failed to start", map[string]interface{}{"address": bindAddr, "error": err.Error()})
	}
}

type joinRequest struct {
	FirstName             string  `json:"first_name"`
	LastName              string  `json:"last_name"`
	Kind                  string  `json:"kind"`
	AccessLevel           int     `json:"access_level"`
	RequestedDrawDistance float64 `json:"requested_draw_distance"`
	RequestedRegionView   float64 `json:"requested_region_view"`
}

// handleJoin admits a new presence into the region: it builds a Presence
// and Orchestrator wired to the region's shared collaborators, registers
// it, and advances it to Running. A real deployment would authenticate
// the request against the grid's session service before calling this;
// that check is out of this core's scope.
func handleJoin(registry *presenceRegistry, sceneImpl *scene.InMemoryScene, land *scene.ParcelGrid, ws *transport.WebSocketSink, gridSvc *grid.Service, pool *worker.Pool, cfg *config.PresenceConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req joinRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}

		kind := presence.KindHuman
		if req.Kind == "npc" {
			kind = presence.KindNonPlayerCharacter
		}

		id := collab.PresenceID(uuid.NewString())
		p := presence.New(id, req.FirstName, req.LastName, kind, uuid.New(), presence.AccessLevel(req.AccessLevel),
			req.RequestedDrawDistance, req.RequestedRegionView, presence.Config{
				MinDrawDistance: cfg.Region.MinDrawDistance,
				MaxDrawDistance: cfg.Region.MaxDrawDistance,
				MinRegionView:   cfg.Region.MinRegionView,
				MaxRegionView:   cfg.Region.MaxRegionView,
			})

		orch := presence.NewOrchestrator(p, presence.Deps{
			Scene:                sceneImpl,
			ClientSink:           ws,
			Grid:                 gridSvc,
			Land:                 land,
			Worker:               pool,
			RegionSizeX:          256,
			RegionSizeY:          256,
			LegacySitRegion:      cfg.Region.LegacySitOffset,
			ReprioritiseInterval: cfg.Schedule.ReprioritiseInterval,
			ReprioritiseDistance: 10,
		})

		if err := orch.Join(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		registry.Put(id, orch)
		sceneImpl.Enter(id)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"presence_id": string(id)})
	}
}

// staticRegionResolver is a placeholder grid.RegionResolver that always
// reports the neighbour unknown; a real deployment replaces this with a
// grid directory service lookup.
type staticRegionResolver struct{}

func (staticRegionResolver) ResolveRegionURL(handle collab.RegionHandle) (string, bool) {
	return "", false
}

func displayHelp(cfg *config.PresenceConfig) {
	fmt.Println("presencecore - Avatar Presence Core region daemon")
	fmt.Println("==================================================")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  presenced [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  --host HOST                  Host to bind to")
	fmt.Println("  --port PORT                  Port to bind to")
	fmt.Println("  --log-dir PATH               Log directory")
	fmt.Println("  --log-level LEVEL            TRACE|DEBUG|INFO|WARN|ERROR|FATAL")
	fmt.Println("  --telehub-config PATH        Telehub/landing-point YAML config")
	fmt.Println("  --max-draw-distance METERS   Maximum draw distance")
	fmt.Println("  --grid-bearer-secret SECRET  HMAC secret for neighbour bearer tokens")
	fmt.Println("  --help                       Show this help message")
	fmt.Println()
	fmt.Printf("DEFAULT BIND: %s:%s\n", cfg.Host, cfg.Port)
	fmt.Printf("DEFAULT LOG DIR: %s\n", cfg.LogDir)
}
