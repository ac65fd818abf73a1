package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/magicaleks/evidence-collector/internal/domain"
	"github.com/magicaleks/evidence-collector/internal/transfer"
)

// WorkerLister reports the running transfer workers.
type WorkerLister interface {
	Snapshot() []transfer.Handle
}

// StatsSource reports the transfer counters.
type StatsSource interface {
	Snapshot() domain.StatsSnapshot
}

// Connectivity reports whether the collector service is reachable.
type Connectivity interface {
	Connected() bool
}

// Repository lists local repositories and their queue length.
type Repository interface {
	Instances(ctx context.Context) ([]domain.Instance, error)
	Pending(ctx context.Context, instance domain.Instance) (int, error)
}

type Handler struct {
	workers WorkerLister
	stats   StatsSource
	conn    Connectivity
	repo    Repository
	logger  *slog.Logger
}

func NewHandler(workers WorkerLister, stats StatsSource, conn Connectivity, repo Repository, logger *slog.Logger) *Handler {
	return &Handler{
		workers: workers,
		stats:   stats,
		conn:    conn,
		repo:    repo,
		logger:  logger,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type statusResponse struct {
	Connected bool                 `json:"connected"`
	Workers   []transfer.Handle    `json:"workers"`
	Stats     domain.StatsSnapshot `json:"stats"`
}

func (h *Handler) Status(c *gin.Context) {
	resp := statusResponse{
		Connected: h.conn.Connected(),
		Workers:   h.workers.Snapshot(),
		Stats:     h.stats.Snapshot(),
	}
	logAttrs(c, "connected", resp.Connected, "workers", len(resp.Workers))
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": resp})
}

type instanceInfo struct {
	Instance domain.Instance `json:"instance"`
	Pending  int             `json:"pending"`
}

func (h *Handler) Instances(c *gin.Context) {
	ctx := c.Request.Context()

	instances, err := h.repo.Instances(ctx)
	if err != nil {
		h.logger.Error("list instances failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	out := make([]instanceInfo, 0, len(instances))
	total := 0
	for _, inst := range instances {
		n, err := h.repo.Pending(ctx, inst)
		if err != nil {
			h.logger.Warn("count evidence failed", "instance", inst, "err", err)
			continue
		}
		out = append(out, instanceInfo{Instance: inst, Pending: n})
		total += n
	}

	logAttrs(c, "instances", len(out), "pending", total)
	c.JSON(http.StatusOK, gin.H{"ok": true, "data": out})
}
