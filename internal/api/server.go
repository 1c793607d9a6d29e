// Package api exposes the auction operations over HTTP. Every rejection
// carries a machine-readable code mapped from the error taxonomy so
// clients never have to string-match.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/guildhall/auctioneer/internal/auction"
	"github.com/guildhall/auctioneer/internal/store"
	"github.com/guildhall/auctioneer/internal/wallet"
)

// Server holds the API dependencies.
type Server struct {
	registry *auction.Registry
	wallet   *wallet.Manager
	members  store.MemberRepository
	logger   *slog.Logger
}

// NewServer returns a Server.
func NewServer(registry *auction.Registry, w *wallet.Manager, members store.MemberRepository, logger *slog.Logger) *Server {
	return &Server{
		registry: registry,
		wallet:   w,
		members:  members,
		logger:   logger,
	}
}

// Handler returns the instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/auctions", s.handleCreateAuction)
	mux.HandleFunc("GET /v1/auctions/{id}", s.handleGetAuction)
	mux.HandleFunc("POST /v1/auctions/{id}/bids", s.handlePlaceBid)
	mux.HandleFunc("GET /v1/auctions/{id}/bids", s.handleBidHistory)
	mux.HandleFunc("POST /v1/auctions/{id}/settle", s.handleSettle)
	mux.HandleFunc("POST /v1/auctions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /v1/auctions/{id}/confirm", s.handleConfirm)

	mux.HandleFunc("POST /v1/members", s.handleRegisterMember)
	mux.HandleFunc("GET /v1/members/{id}", s.handleGetMember)
	mux.HandleFunc("POST /v1/members/{id}/gold", s.handleCreditGold)

	return otelhttp.NewHandler(mux, "api")
}

type createAuctionRequest struct {
	ItemID        string    `json:"item_id"`
	StartingPrice int       `json:"starting_price"`
	BuyoutPrice   int       `json:"buyout_price,omitempty"`
	EndTime       time.Time `json:"end_time"`
	CreatedBy     string    `json:"created_by"`
}

func (s *Server) handleCreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.ItemID == "" || req.CreatedBy == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "item_id and created_by are required")
		return
	}

	snap, err := s.registry.CreateAuction(r.Context(), req.ItemID, req.StartingPrice, req.BuyoutPrice, req.EndTime, req.CreatedBy)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.GetAuction(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type placeBidRequest struct {
	BidderID string `json:"bidder_id"`
	Amount   int    `json:"amount"`
}

func (s *Server) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	var req placeBidRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.BidderID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "bidder_id is required")
		return
	}

	snap, err := s.registry.PlaceBid(r.Context(), r.PathValue("id"), req.BidderID, req.Amount)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleBidHistory(w http.ResponseWriter, r *http.Request) {
	bids, err := s.registry.BidHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if bids == nil {
		bids = []auction.Bid{}
	}
	writeJSON(w, http.StatusOK, bids)
}

func (s *Server) handleSettle(w http.ResponseWriter, r *http.Request) {
	res, err := s.registry.Settle(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": string(res)})
}

type callerRequest struct {
	CallerID string `json:"caller_id"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req callerRequest
	if !s.decode(w, r, &req) {
		return
	}

	snap, err := s.registry.CancelAuction(r.Context(), r.PathValue("id"), req.CallerID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req callerRequest
	if !s.decode(w, r, &req) {
		return
	}

	snap, err := s.registry.ConfirmTransaction(r.Context(), r.PathValue("id"), req.CallerID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type registerMemberRequest struct {
	DisplayName string `json:"display_name"`
}

func (s *Server) handleRegisterMember(w http.ResponseWriter, r *http.Request) {
	var req registerMemberRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.DisplayName == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "display_name is required")
		return
	}

	member, err := s.wallet.RegisterMember(r.Context(), req.DisplayName)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (s *Server) handleGetMember(w http.ResponseWriter, r *http.Request) {
	member, err := s.members.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "member_not_found", "member not found")
		return
	}
	writeJSON(w, http.StatusOK, member)
}

type creditGoldRequest struct {
	Amount int    `json:"amount"`
	Reason string `json:"reason"`
}

func (s *Server) handleCreditGold(w http.ResponseWriter, r *http.Request) {
	var req creditGoldRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "amount must be positive")
		return
	}

	if err := s.wallet.Credit(r.Context(), r.PathValue("id"), req.Amount, req.Reason); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	return true
}

// writeDomainError maps the error taxonomy onto HTTP statuses and codes.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auction.ErrAuctionNotFound):
		writeError(w, http.StatusNotFound, "auction_not_found", err.Error())
	case errors.Is(err, auction.ErrAuctionNotActive):
		writeError(w, http.StatusConflict, "auction_not_active", err.Error())
	case errors.Is(err, auction.ErrAuctionExpired):
		writeError(w, http.StatusConflict, "auction_expired", err.Error())
	case errors.Is(err, auction.ErrAmountNotGreater):
		writeError(w, http.StatusConflict, "amount_not_greater", err.Error())
	case errors.Is(err, auction.ErrInvalidPrice):
		writeError(w, http.StatusBadRequest, "invalid_price", err.Error())
	case errors.Is(err, auction.ErrNotAuthorized):
		writeError(w, http.StatusForbidden, "not_authorized", err.Error())
	case errors.Is(err, auction.ErrAuctionNotCompleted):
		writeError(w, http.StatusConflict, "auction_not_completed", err.Error())
	default:
		s.logger.ErrorContext(r.Context(), "internal error",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
