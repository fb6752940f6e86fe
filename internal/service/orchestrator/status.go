package orchestrator

import (
	"time"

	"github.com/sandevgo/contextd/internal/service/cache"
)

type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StatePublishing State = "publishing"
	StateStopped    State = "stopped"
)

type Status struct {
	State             State       `json:"state"`
	GenerationEnabled bool        `json:"generation_enabled"`
	LastCycleAt       time.Time   `json:"last_cycle_at"`
	LastPublishedAt   time.Time   `json:"last_published_at"`
	LastError         string      `json:"last_error,omitempty"`
	LastDigestSize    int         `json:"last_digest_size"`
	LastDigestTokens  int         `json:"last_digest_tokens"`
	LastChecksum      string      `json:"last_checksum"`
	Included          []string    `json:"included"`
	Omitted           int         `json:"omitted"`
	Excluded          int         `json:"excluded"`
	Cycles            int64       `json:"cycles"`
	FailedCycles      int64       `json:"failed_cycles"`
	PendingTrigger    bool        `json:"pending_trigger"`
	WatcherHealthy    bool        `json:"watcher_healthy"`
	Cache             cache.Stats `json:"cache_stats"`
}
