package httpapi

import (
	"net/http"

	"soltrack/internal/models"
	"soltrack/internal/repository"

	"go.uber.org/zap"
)

const activeAlertsLimit = 100

// OverviewHandler serves the dashboard aggregates: contract totals by status,
// cold-chain temperature health and the active alert feed.
type OverviewHandler struct {
	contracts repository.ContractsRepository
	telemetry repository.TelemetryRepository
	alerts    repository.AlertsRepository
	logger    *zap.Logger
}

// NewOverviewHandler creates the overview handler.
func NewOverviewHandler(
	contracts repository.ContractsRepository,
	telemetry repository.TelemetryRepository,
	alerts repository.AlertsRepository,
	logger *zap.Logger,
) *OverviewHandler {
	return &OverviewHandler{
		contracts: contracts,
		telemetry: telemetry,
		alerts:    alerts,
		logger:    logger,
	}
}

type overviewResponse struct {
	StatusCounts map[string]int `json:"status_counts"`
	AvgTemp      float64        `json:"avg_temp"`
	SuccessRate  float64        `json:"success_rate"`
	ActiveAlerts int            `json:"active_alerts"`
}

// GetOverview handles GET /escrow/api/v1/overview. Temperature aggregates
// cover the caller's in-transit contracts, each reading judged against its
// own contract band.
func (h *OverviewHandler) GetOverview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	filters := filtersForCaller(callerFromReq(r))

	counts, err := h.contracts.StatusCounts(ctx, filters)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	// Legacy "Active" rows are reported under Ongoing.
	if n, ok := counts[models.StatusActive]; ok {
		counts[models.StatusOngoing] += n
		delete(counts, models.StatusActive)
	}

	ongoing, err := h.contracts.FindByStatus(ctx, models.OngoingStatuses(), filters)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var (
		total, normal int
		tempSum       float64
	)
	for _, c := range ongoing {
		if c.DeviceID == nil || *c.DeviceID == "" {
			continue
		}
		stats, err := h.telemetry.StatsForBand(ctx, *c.DeviceID, c.MaxTemp, c.MinTemp)
		if err != nil {
			h.logger.Warn("telemetry stats unavailable",
				zap.Int64("contract_id", c.ContractID), zap.Error(err))
			continue
		}
		if stats == nil || stats.TotalRecords == 0 {
			continue
		}
		total += stats.TotalRecords
		normal += stats.NormalRecords
		tempSum += stats.AvgTemp * float64(stats.TotalRecords)
	}

	resp := overviewResponse{StatusCounts: counts}
	if total > 0 {
		resp.AvgTemp = tempSum / float64(total)
		resp.SuccessRate = float64(normal) / float64(total) * 100
	}

	active, err := h.alerts.ListActive(ctx, activeAlertsLimit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp.ActiveAlerts = len(active)

	writeJSON(w, http.StatusOK, Ok(resp))
}

// ListAlerts handles GET /escrow/api/v1/alerts.
func (h *OverviewHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	active, err := h.alerts.ListActive(r.Context(), activeAlertsLimit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if active == nil {
		active = []*models.Alert{}
	}
	writeJSON(w, http.StatusOK, Ok(active))
}
