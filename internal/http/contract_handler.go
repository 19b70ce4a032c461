package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"soltrack/internal/lifecycle"
	"soltrack/internal/models"
	"soltrack/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ContractHandler serves the contract resource: creation, lifecycle triggers
// and delivery progress.
type ContractHandler struct {
	manager   *lifecycle.Manager
	contracts repository.ContractsRepository
	parties   repository.PartiesRepository
	logger    *zap.Logger
}

// NewContractHandler creates the contract handler.
func NewContractHandler(
	manager *lifecycle.Manager,
	contracts repository.ContractsRepository,
	parties repository.PartiesRepository,
	logger *zap.Logger,
) *ContractHandler {
	return &ContractHandler{
		manager:   manager,
		contracts: contracts,
		parties:   parties,
		logger:    logger,
	}
}

// caller identity comes from headers set by the auth proxy in front of us.
type caller struct {
	Address string
	Role    string
}

func callerFromReq(r *http.Request) caller {
	return caller{
		Address: r.Header.Get("X-User-Address"),
		Role:    strings.ToLower(r.Header.Get("X-User-Role")),
	}
}

// filtersForCaller scopes list queries: buyers and sellers see their own
// contracts, admins (or unidentified internal callers) see everything.
func filtersForCaller(c caller) repository.ContractFilters {
	switch c.Role {
	case models.RoleBuyer, models.RoleSeller:
		return repository.ContractFilters{Role: c.Role, Address: c.Address}
	}
	return repository.ContractFilters{}
}

type createContractRequest struct {
	BuyerAddress  string   `json:"buyer_address"`
	SellerAddress string   `json:"seller_address"`
	ProductName   string   `json:"product_name"`
	Quantity      int      `json:"quantity"`
	UnitPrice     string   `json:"unit_price"`
	MaxTemp       float64  `json:"max_temp"`
	MinTemp       *float64 `json:"min_temp,omitempty"`
	DeviceID      *string  `json:"device_id,omitempty"`
}

// CreateContract handles POST /escrow/api/v1/contracts.
func (h *ContractHandler) CreateContract(w http.ResponseWriter, r *http.Request) {
	var req createContractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, models.Validationf("invalid request body: %v", err))
		return
	}

	unitPrice, err := decimal.NewFromString(req.UnitPrice)
	if err != nil {
		writeError(w, h.logger, models.Validationf("invalid unit_price %q", req.UnitPrice))
		return
	}

	c, err := h.manager.Create(r.Context(), lifecycle.CreateRequest{
		BuyerAddress:  req.BuyerAddress,
		SellerAddress: req.SellerAddress,
		ProductName:   req.ProductName,
		Quantity:      req.Quantity,
		UnitPrice:     unitPrice,
		MaxTemp:       req.MaxTemp,
		MinTemp:       req.MinTemp,
		DeviceID:      req.DeviceID,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, Ok(c))
}

// ListContracts handles GET /escrow/api/v1/contracts?status=Ongoing,Completed.
// An empty status filter returns every contract visible to the caller.
func (h *ContractHandler) ListContracts(w http.ResponseWriter, r *http.Request) {
	statuses := parseStatuses(r.URL.Query().Get("status"))
	filters := filtersForCaller(callerFromReq(r))

	contracts, err := h.contracts.FindByStatus(r.Context(), statuses, filters)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if contracts == nil {
		contracts = []*models.Contract{}
	}
	writeJSON(w, http.StatusOK, Ok(contracts))
}

// parseStatuses expands the query filter. "Ongoing" also matches legacy
// "Active" rows written before the status rename.
func parseStatuses(raw string) []string {
	if raw == "" {
		return []string{
			models.StatusPending, models.StatusActive, models.StatusOngoing,
			models.StatusCompleted, models.StatusRefunded,
		}
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if strings.EqualFold(s, models.StatusOngoing) {
			out = append(out, models.StatusActive)
		}
	}
	return out
}

// GetContract handles GET /escrow/api/v1/contracts/{id}.
func (h *ContractHandler) GetContract(w http.ResponseWriter, r *http.Request, id int64) {
	c, err := h.contracts.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(c))
}

type activateRequest struct {
	Lat *float64 `json:"lat,omitempty"`
	Lon *float64 `json:"lon,omitempty"`
}

// ActivateContract handles POST /escrow/api/v1/contracts/{id}/activate.
// The funding party confirms; an optional body pins the shipment origin.
func (h *ContractHandler) ActivateContract(w http.ResponseWriter, r *http.Request, id int64) {
	var req activateRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, h.logger, models.Validationf("invalid request body: %v", err))
			return
		}
	}

	var coord *models.Coordinate
	if req.Lat != nil && req.Lon != nil {
		coord = &models.Coordinate{Lat: *req.Lat, Lon: *req.Lon}
	}

	c, err := h.manager.Activate(r.Context(), id, callerFromReq(r).Address, coord)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(c))
}

type settleRequest struct {
	Action string `json:"action"`
}

// SettleContract handles POST /escrow/api/v1/contracts/{id}/complete with
// action "complete" (release to seller) or "refund" (return to buyer).
// Only the contract's own buyer or an admin may settle.
func (h *ContractHandler) SettleContract(w http.ResponseWriter, r *http.Request, id int64) {
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, models.Validationf("invalid request body: %v", err))
		return
	}

	who := callerFromReq(r)
	if who.Role != models.RoleAdmin && who.Role != models.RoleBuyer {
		writeError(w, h.logger, models.Authorizationf("role %q cannot settle contracts", who.Role))
		return
	}
	// Buyers settle as themselves; admins act as operators.
	caller := who.Address
	if who.Role == models.RoleAdmin {
		caller = ""
	}

	var (
		c   *models.Contract
		err error
	)
	switch req.Action {
	case "complete":
		c, err = h.manager.Complete(r.Context(), id, caller)
	case "refund":
		c, err = h.manager.Refund(r.Context(), id, caller)
	default:
		err = models.Validationf("unknown action %q, want complete or refund", req.Action)
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(c))
}

type progressResponse struct {
	ContractID int64   `json:"contract_id"`
	Status     string  `json:"status"`
	Percent    float64 `json:"percent"`
	Label      string  `json:"label"`
	TotalKm    float64 `json:"total_km"`
	CoveredKm  float64 `json:"covered_km"`
	RemainKm   float64 `json:"remaining_km"`
	Arrived    bool    `json:"arrived"`
}

// ContractProgress handles GET /escrow/api/v1/contracts/{id}/progress.
func (h *ContractHandler) ContractProgress(w http.ResponseWriter, r *http.Request, id int64) {
	progress, c, err := h.manager.EvaluateDelivery(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(progressResponse{
		ContractID: c.ContractID,
		Status:     c.Status,
		Percent:    progress.Percent,
		Label:      progress.Label,
		TotalKm:    progress.TotalKm,
		CoveredKm:  progress.CoveredKm,
		RemainKm:   progress.RemainingKm,
		Arrived:    progress.Arrived,
	}))
}

// ListParties handles GET /escrow/api/v1/parties?role=seller: the profile
// directory the contract form picks counterparties from.
func (h *ContractHandler) ListParties(w http.ResponseWriter, r *http.Request) {
	role := strings.ToLower(r.URL.Query().Get("role"))
	switch role {
	case models.RoleBuyer, models.RoleSeller:
	default:
		writeError(w, h.logger, models.Validationf("role must be buyer or seller, got %q", role))
		return
	}

	parties, err := h.parties.ListByRole(r.Context(), role)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if parties == nil {
		parties = []*models.Party{}
	}
	writeJSON(w, http.StatusOK, Ok(parties))
}

func parseContractID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, models.Validationf("invalid contract id %q", raw)
	}
	return id, nil
}
