// README: Routing run trigger, run history, mode switch and overflow alerts for operators.
package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"multidrop/internal/ai"
	"multidrop/internal/http/middleware"
	"multidrop/internal/modules/aiusage"
	"multidrop/internal/modules/dispatch"
	"multidrop/internal/modules/orchestration"
	"multidrop/internal/modules/overflow"
	"multidrop/internal/types"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
)

type RoutingService interface {
	RunManual(ctx context.Context, req dispatch.ManualRun) (orchestration.RunResult, error)
	CancelRun(runID types.ID) error
	History(ctx context.Context, f dispatch.RunFilter) ([]dispatch.RunRecord, error)
	Run(ctx context.Context, id types.ID) (*dispatch.RunRecord, error)
	Mode() dispatch.Mode
	SetMode(ctx context.Context, mode dispatch.Mode, actorID string) error
	InFlight() []types.ID
}

type AlertSource interface {
	Alerts(ctx context.Context) ([]overflow.Alert, error)
}

// SummaryQuota meters AI summaries per operator.
type SummaryQuota interface {
	Consume(ctx context.Context, uid string) error
}

type RoutingHandler struct {
	svc      RoutingService
	alerts   AlertSource
	narrator ai.Narrator
	quota    SummaryQuota
}

// NewRoutingHandler accepts a nil narrator; the summary endpoint then answers 503.
func NewRoutingHandler(svc RoutingService, alerts AlertSource, narrator ai.Narrator) *RoutingHandler {
	return &RoutingHandler{svc: svc, alerts: alerts, narrator: narrator}
}

func (h *RoutingHandler) WithQuota(q SummaryQuota) *RoutingHandler {
	h.quota = q
	return h
}

type runRequest struct {
	Groups        []orchestration.ForcedGroup `json:"groups"`
	OnlyGroups    bool                        `json:"only_groups"`
	MaxPerCluster int                         `json:"max_per_cluster"`
}

func (h *RoutingHandler) Run(c *gin.Context) {
	var req runRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid body")
			return
		}
	}
	if req.MaxPerCluster < 0 {
		writeError(c, http.StatusBadRequest, "max_per_cluster must not be negative")
		return
	}
	for _, g := range req.Groups {
		if len(g.DropIDs) == 0 {
			writeError(c, http.StatusBadRequest, "group without drops")
			return
		}
		for _, id := range g.DropIDs {
			if !isValidID(string(id)) {
				writeError(c, http.StatusBadRequest, "invalid drop id")
				return
			}
		}
		if g.DriverID != nil && !isValidID(string(*g.DriverID)) {
			writeError(c, http.StatusBadRequest, "invalid driver id")
			return
		}
	}

	res, err := h.svc.RunManual(c.Request.Context(), dispatch.ManualRun{
		ActorID: middleware.CallerUID(c),
		Overrides: orchestration.Overrides{
			Groups:        req.Groups,
			OnlyGroups:    req.OnlyGroups,
			MaxPerCluster: req.MaxPerCluster,
		},
	})
	if err != nil && !res.Cancelled {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (h *RoutingHandler) CancelRun(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return
	}
	if err := h.svc.CancelRun(types.ID(id)); err != nil {
		writeDispatchError(c, err)
		return
	}
	log.Printf("[routing] run %s cancel requested by %s", id, middleware.CallerUID(c))
	writeJSON(c, http.StatusAccepted, gin.H{"status": "cancelling"})
}

func (h *RoutingHandler) ListRuns(c *gin.Context) {
	limit := defaultRunLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxRunLimit)
	}
	f := dispatch.RunFilter{Limit: uint64(limit), WithSkipped: c.Query("skipped") == "true"}
	switch v := c.Query("trigger"); v {
	case "":
	case string(orchestration.SourceAuto), string(orchestration.SourceManual):
		f.Trigger = orchestration.Source(v)
	default:
		writeError(c, http.StatusBadRequest, "invalid trigger")
		return
	}
	runs, err := h.svc.History(c.Request.Context(), f)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if runs == nil {
		runs = []dispatch.RunRecord{}
	}
	writeJSON(c, http.StatusOK, runs)
}

func (h *RoutingHandler) Summary(c *gin.Context) {
	if h.narrator == nil {
		writeError(c, http.StatusServiceUnavailable, "summaries not configured")
		return
	}
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid id")
		return
	}
	rec, err := h.svc.Run(c.Request.Context(), types.ID(id))
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if h.quota != nil {
		if err := h.quota.Consume(c.Request.Context(), middleware.CallerUID(c)); err != nil {
			if errors.Is(err, aiusage.ErrQuotaExhausted) {
				writeError(c, http.StatusTooManyRequests, err.Error())
				return
			}
			writeDispatchError(c, err)
			return
		}
	}
	summary, err := h.narrator.Summarize(c.Request.Context(), digestOf(*rec))
	if err != nil {
		log.Printf("[routing] summary for run %s failed: %v", id, err)
		writeError(c, http.StatusBadGateway, "summary unavailable")
		return
	}
	writeJSON(c, http.StatusOK, summary)
}

func digestOf(rec dispatch.RunRecord) ai.RunDigest {
	d := ai.RunDigest{
		RunID:          string(rec.ID),
		Trigger:        string(rec.Trigger),
		Skipped:        rec.Skipped,
		SkipReason:     rec.SkipReason,
		DropsProcessed: rec.DropsProcessed,
		RoutesCreated:  rec.RoutesCreated,
		OverflowCount:  rec.OverflowCount,
		StartedAt:      rec.StartedAt,
		FinishedAt:     rec.FinishedAt,
	}
	for _, e := range rec.Errors {
		d.Errors = append(d.Errors, string(e.Kind)+": "+e.Message)
	}
	return d
}

func (h *RoutingHandler) GetMode(c *gin.Context) {
	inflight := h.svc.InFlight()
	if inflight == nil {
		inflight = []types.ID{}
	}
	writeJSON(c, http.StatusOK, gin.H{"mode": h.svc.Mode(), "in_flight": inflight})
}

type modeRequest struct {
	Mode string `json:"mode"`
}

func (h *RoutingHandler) SetMode(c *gin.Context) {
	var req modeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid body")
		return
	}
	mode, err := dispatch.ParseMode(req.Mode)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if err := h.svc.SetMode(c.Request.Context(), mode, middleware.CallerUID(c)); err != nil {
		writeDispatchError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"mode": mode})
}

func (h *RoutingHandler) Alerts(c *gin.Context) {
	alerts, err := h.alerts.Alerts(c.Request.Context())
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	if alerts == nil {
		alerts = []overflow.Alert{}
	}
	writeJSON(c, http.StatusOK, alerts)
}
