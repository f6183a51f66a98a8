package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Mindburn-Labs/vault/pkg/budget"
	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/governance"
)

// Vault is the engine surface served over HTTP.
type Vault interface {
	Propose(ctx context.Context, caller string, req governance.ProposeRequest) (uint64, error)
	Approve(ctx context.Context, caller string, id uint64) error
	Abstain(ctx context.Context, caller string, id uint64) error
	Execute(ctx context.Context, caller string, id uint64) error
	Reject(ctx context.Context, caller string, id uint64) error
	Expire(ctx context.Context, id uint64) error
	Proposal(ctx context.Context, id uint64) (*contracts.Proposal, error)
	PriorityQueue(ctx context.Context, tier contracts.Priority) ([]uint64, error)
	PendingByPriority(ctx context.Context) ([]uint64, error)
	Reputation(ctx context.Context, addr string) (*contracts.Reputation, error)
	NotificationPrefs(ctx context.Context, addr string) (contracts.NotificationPrefs, error)
	SetNotificationPrefs(ctx context.Context, caller string, prefs contracts.NotificationPrefs) error
	Config(ctx context.Context) (*contracts.Config, error)
	Preview(ctx context.Context, amount int64) (*budget.Decision, error)

	CreateRecurring(ctx context.Context, caller string, req governance.RecurringRequest) (uint64, error)
	Recurring(ctx context.Context, id uint64) (*contracts.RecurringPayment, error)
	ExecuteRecurring(ctx context.Context, caller string, id uint64) error
	StopRecurring(ctx context.Context, caller string, id uint64) error

	ProposeCrossChain(ctx context.Context, caller string, req governance.CrossChainRequest) (uint64, error)
	ApproveCrossChain(ctx context.Context, caller string, id uint64) error
	ExecuteCrossChain(ctx context.Context, caller string, id uint64, bridgeTxHash string) (uint64, error)
	CrossChainProposal(ctx context.Context, id uint64) (*contracts.CrossChainProposal, error)
	CrossChainAsset(ctx context.Context, id uint64) (*contracts.CrossChainAsset, error)
	RecordConfirmations(ctx context.Context, caller string, assetID uint64, confirmations uint32) error
}

var _ Vault = (*governance.Engine)(nil)

const maxBodyBytes = 1 << 20

// Server holds the HTTP handlers.
type Server struct {
	vault  Vault
	logger *slog.Logger
}

// NewServer creates a server over v.
func NewServer(v Vault) *Server {
	return &Server{vault: v, logger: slog.Default().With("component", "api")}
}

// Handler returns the routed mux. Authentication and rate limiting are
// applied by the caller.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /v1/proposals", s.handlePropose)
	mux.HandleFunc("GET /v1/proposals/{id}", s.handleGetProposal)
	mux.HandleFunc("POST /v1/proposals/{id}/{action}", s.handleProposalAction)
	mux.HandleFunc("GET /v1/queue", s.handleQueue)
	mux.HandleFunc("GET /v1/reputation/{addr}", s.handleReputation)
	mux.HandleFunc("GET /v1/notifications/{addr}", s.handleGetNotificationPrefs)
	mux.HandleFunc("PUT /v1/notifications", s.handleSetNotificationPrefs)
	mux.HandleFunc("GET /v1/config", s.handleConfig)
	mux.HandleFunc("GET /v1/preview", s.handlePreview)

	mux.HandleFunc("POST /v1/recurring", s.handleCreateRecurring)
	mux.HandleFunc("GET /v1/recurring/{id}", s.handleGetRecurring)
	mux.HandleFunc("POST /v1/recurring/{id}/{action}", s.handleRecurringAction)

	mux.HandleFunc("POST /v1/crosschain", s.handleProposeCrossChain)
	mux.HandleFunc("GET /v1/crosschain/{id}", s.handleGetCrossChain)
	mux.HandleFunc("POST /v1/crosschain/{id}/approve", s.handleApproveCrossChain)
	mux.HandleFunc("POST /v1/crosschain/{id}/execute", s.handleExecuteCrossChain)
	mux.HandleFunc("GET /v1/assets/{id}", s.handleGetAsset)
	mux.HandleFunc("POST /v1/assets/{id}/confirmations", s.handleConfirmations)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req governance.ProposeRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.vault.Propose(r.Context(), caller, req)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := s.vault.Proposal(r.Context(), id)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleProposalAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	action := r.PathValue("action")

	var err error
	if action == "expire" {
		// Anyone may expire an overdue proposal.
		err = s.vault.Expire(ctx, id)
	} else {
		caller, ok := requireCaller(w, r)
		if !ok {
			return
		}
		switch action {
		case "approve":
			err = s.vault.Approve(ctx, caller, id)
		case "abstain":
			err = s.vault.Abstain(ctx, caller, id)
		case "execute":
			err = s.vault.Execute(ctx, caller, id)
		case "reject":
			err = s.vault.Reject(ctx, caller, id)
		default:
			WriteError(w, http.StatusNotFound, "Not Found", fmt.Sprintf("unknown action %q", action))
			return
		}
	}
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	p, err := s.vault.Proposal(ctx, id)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	s.logger.InfoContext(ctx, "proposal action", "action", action, "id", id, "status", string(p.Status), "request_id", RequestID(ctx))
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	var (
		ids []uint64
		err error
	)
	if name := r.URL.Query().Get("priority"); name != "" {
		tier, perr := contracts.ParsePriority(name)
		if perr != nil {
			WriteBadRequest(w, perr.Error())
			return
		}
		ids, err = s.vault.PriorityQueue(r.Context(), tier)
	} else {
		ids, err = s.vault.PendingByPriority(r.Context())
	}
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	writeJSON(w, http.StatusOK, map[string][]uint64{"ids": ids})
}

func (s *Server) handleReputation(w http.ResponseWriter, r *http.Request) {
	rep, err := s.vault.Reputation(r.Context(), r.PathValue("addr"))
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleGetNotificationPrefs(w http.ResponseWriter, r *http.Request) {
	prefs, err := s.vault.NotificationPrefs(r.Context(), r.PathValue("addr"))
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

// handleSetNotificationPrefs stores the caller's own preferences.
func (s *Server) handleSetNotificationPrefs(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var prefs contracts.NotificationPrefs
	if !decode(w, r, &prefs) {
		return
	}
	if err := s.vault.SetNotificationPrefs(r.Context(), caller, prefs); err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.vault.Config(r.Context())
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	amount, err := strconv.ParseInt(r.URL.Query().Get("amount"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "amount must be an integer")
		return
	}
	d, err := s.vault.Preview(r.Context(), amount)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleCreateRecurring(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req governance.RecurringRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.vault.CreateRecurring(r.Context(), caller, req)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleGetRecurring(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rp, err := s.vault.Recurring(r.Context(), id)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rp)
}

func (s *Server) handleRecurringAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var err error
	switch action := r.PathValue("action"); action {
	case "execute":
		err = s.vault.ExecuteRecurring(r.Context(), caller, id)
	case "stop":
		err = s.vault.StopRecurring(r.Context(), caller, id)
	default:
		WriteError(w, http.StatusNotFound, "Not Found", fmt.Sprintf("unknown action %q", action))
		return
	}
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	rp, err := s.vault.Recurring(r.Context(), id)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rp)
}

func (s *Server) handleProposeCrossChain(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req governance.CrossChainRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.vault.ProposeCrossChain(r.Context(), caller, req)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idResponse{ID: id})
}

func (s *Server) handleGetCrossChain(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := s.vault.CrossChainProposal(r.Context(), id)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleApproveCrossChain(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if err := s.vault.ApproveCrossChain(r.Context(), caller, id); err != nil {
		WriteEngineError(w, r, err)
		return
	}
	s.handleGetCrossChain(w, r)
}

type executeCrossChainRequest struct {
	BridgeTxHash string `json:"bridge_tx_hash"`
}

func (s *Server) handleExecuteCrossChain(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req executeCrossChainRequest
	if !decode(w, r, &req) {
		return
	}
	assetID, err := s.vault.ExecuteCrossChain(r.Context(), caller, id, req.BridgeTxHash)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"id": id, "asset_id": assetID})
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	a, err := s.vault.CrossChainAsset(r.Context(), id)
	if err != nil {
		WriteEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type confirmationsRequest struct {
	Confirmations uint32 `json:"confirmations"`
}

func (s *Server) handleConfirmations(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req confirmationsRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.vault.RecordConfirmations(r.Context(), caller, id, req.Confirmations); err != nil {
		WriteEngineError(w, r, err)
		return
	}
	s.handleGetAsset(w, r)
}

type idResponse struct {
	ID uint64 `json:"id"`
}

func requireCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller, ok := CallerFrom(r.Context())
	if !ok {
		WriteUnauthorized(w, "")
	}
	return caller, ok
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		WriteBadRequest(w, "id must be an unsigned integer")
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteError(w, http.StatusRequestEntityTooLarge, "Request Entity Too Large", "request body exceeds 1 MiB")
			return false
		}
		WriteBadRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
