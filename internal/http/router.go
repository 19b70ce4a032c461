package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const contractsPrefix = "/escrow/api/v1/contracts"

// Router uses the standard library http.ServeMux to avoid a third-party
// routing dependency.
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterEscrowRoutes wires the contract and dashboard endpoints.
func (r *Router) RegisterEscrowRoutes(ch *ContractHandler, oh *OverviewHandler) {
	r.Handle(contractsPrefix, func(w http.ResponseWriter, req *http.Request) {
		switch req.Method {
		case http.MethodGet:
			ch.ListContracts(w, req)
		case http.MethodPost:
			ch.CreateContract(w, req)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})

	// contracts/{id}[/activate|/complete|/progress]
	r.Handle(contractsPrefix+"/", func(w http.ResponseWriter, req *http.Request) {
		rest := strings.TrimPrefix(req.URL.Path, contractsPrefix+"/")
		parts := strings.Split(rest, "/")
		if len(parts) == 0 || parts[0] == "" || len(parts) > 2 {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		id, err := parseContractID(parts[0])
		if err != nil {
			writeError(w, r.logger, err)
			return
		}

		action := ""
		if len(parts) == 2 {
			action = parts[1]
		}

		switch {
		case action == "" && req.Method == http.MethodGet:
			ch.GetContract(w, req, id)
		case action == "activate" && req.Method == http.MethodPost:
			ch.ActivateContract(w, req, id)
		case action == "complete" && req.Method == http.MethodPost:
			ch.SettleContract(w, req, id)
		case action == "progress" && req.Method == http.MethodGet:
			ch.ContractProgress(w, req, id)
		case action == "" || action == "activate" || action == "complete" || action == "progress":
			w.WriteHeader(http.StatusMethodNotAllowed)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	r.Handle("/escrow/api/v1/parties", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ch.ListParties(w, req)
	})

	r.Handle("/escrow/api/v1/overview", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		oh.GetOverview(w, req)
	})

	r.Handle("/escrow/api/v1/alerts", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		oh.ListAlerts(w, req)
	})
}
