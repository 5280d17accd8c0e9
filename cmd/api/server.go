package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"freightflow/auth"
	"freightflow/carrier"
	"freightflow/db"
	"freightflow/promotion"
	"freightflow/request"
	"freightflow/shipment"
)

type ctxKey int

const (
	ctxKeyAccountID ctxKey = iota
	ctxKeyCarrierID
	ctxKeyRole
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.Account, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (auth.Session, error)
}

type requestService interface {
	Create(ctx context.Context, params request.CreateParams) (request.Request, error)
	GetByID(ctx context.Context, id string) (request.Request, error)
	List(ctx context.Context, filters request.Filters) ([]request.Request, int, error)
	Transition(ctx context.Context, params request.TransitionParams) (request.Request, error)
	Cancel(ctx context.Context, requestID, actorID string) (request.Request, error)
}

type claimService interface {
	Accept(ctx context.Context, requestID, carrierID string) (request.Request, error)
	Reject(ctx context.Context, requestID, carrierID string) error
}

type matchService interface {
	VisibleRequests(ctx context.Context, c carrier.Carrier) ([]request.Request, error)
}

type shipmentService interface {
	GetByID(ctx context.Context, id string) (shipment.Shipment, error)
	List(ctx context.Context, carrierID string, limit int) ([]shipment.Shipment, error)
	Transition(ctx context.Context, params shipment.TransitionParams) (shipment.Shipment, error)
	History(ctx context.Context, shipmentID string) ([]shipment.HistoryEntry, error)
	AssignCrew(ctx context.Context, shipmentID string, driverID, vehicleID *string) (shipment.Shipment, error)
}

type promotionRunner interface {
	Tick(ctx context.Context) promotion.Summary
}

// Server is the thin JSON surface over the matching engine. Handlers parse,
// delegate, and translate sentinel errors to status codes; no business rules
// live here.
type Server struct {
	authService     authService
	carrierService  *carrier.Service
	requestService  requestService
	claimService    claimService
	matchService    matchService
	shipmentService shipmentService
	promotionRunner promotionRunner
	log             *zap.Logger
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/requests", s.requireAuth(s.handleRequests))
	mux.HandleFunc("/api/requests/visible", s.requireAuth(s.handleVisibleRequests))
	mux.HandleFunc("/api/requests/", s.requireAuth(s.handleRequestDetail))
	mux.HandleFunc("/api/shipments", s.requireAuth(s.handleShipments))
	mux.HandleFunc("/api/shipments/", s.requireAuth(s.handleShipmentDetail))
	mux.HandleFunc("/api/carriers", s.requireAuth(s.handleCarriers))
	mux.HandleFunc("/api/carriers/", s.requireAuth(s.handleCarrier))
	mux.HandleFunc("/api/admin/promote", s.requireAuth(s.handlePromoteNow))
	return mux
}

// requireAuth resolves the bearer token into session context values.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		session, err := s.authService.VerifyToken(token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyAccountID, session.AccountID)
		ctx = context.WithValue(ctx, ctxKeyRole, session.Role)
		if session.CarrierID != nil {
			ctx = context.WithValue(ctx, ctxKeyCarrierID, *session.CarrierID)
		}
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	account, err := s.authService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateEmail):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, auth.ErrWeakPassword):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			s.writeError(w, err)
		}
		return
	}

	respondJSON(w, http.StatusCreated, toAccountResponse(*account))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		s.writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, loginResponse{
		Token:   result.Token,
		Account: toAccountResponse(result.Account),
	})
}

func (s *Server) handleRequests(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListRequests(w, r)
	case http.MethodPost:
		s.handleCreateRequest(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	filters := request.Filters{
		Status:    request.Status(r.URL.Query().Get("status")),
		CarrierID: r.URL.Query().Get("carrierId"),
	}
	if page, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		filters.Page = page
	}
	if size, err := strconv.Atoi(r.URL.Query().Get("pageSize")); err == nil {
		filters.PageSize = size
	}

	items, total, err := s.requestService.List(r.Context(), filters)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]requestResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toRequestResponse(item))
	}
	respondJSON(w, http.StatusOK, listResponse[requestResponse]{Items: out, Total: total})
}

type createRequestBody struct {
	TransportTypeID  int     `json:"transportTypeId"`
	PickupCity       string  `json:"pickupCity"`
	PickupDistrict   *string `json:"pickupDistrict"`
	DeliveryCity     string  `json:"deliveryCity"`
	DeliveryDistrict *string `json:"deliveryDistrict"`
	Price            int64   `json:"price"`
	ExpiresAt        *string `json:"expiresAt"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	if roleFromContext(r.Context()) != auth.RoleDispatcher {
		http.Error(w, "dispatcher role required", http.StatusForbidden)
		return
	}

	var body createRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	params := request.CreateParams{
		TransportTypeID: body.TransportTypeID,
		PickupRegion:    request.Region{City: body.PickupCity, District: body.PickupDistrict},
		DeliveryRegion:  request.Region{City: body.DeliveryCity, District: body.DeliveryDistrict},
		Price:           body.Price,
	}
	if body.ExpiresAt != nil {
		expires, err := time.Parse(time.RFC3339, *body.ExpiresAt)
		if err != nil {
			http.Error(w, "invalid expiresAt", http.StatusBadRequest)
			return
		}
		params.ExpiresAt = &expires
	}

	created, err := s.requestService.Create(r.Context(), params)
	if err != nil {
		// Intake validation errors are plain wrapped errors, not sentinels.
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	respondJSON(w, http.StatusCreated, toRequestResponse(created))
}

// handleVisibleRequests serves the carrier feed: only requests the session's
// carrier is eligible for.
func (s *Server) handleVisibleRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	carrierID := carrierIDFromContext(r.Context())
	if carrierID == "" {
		http.Error(w, "carrier session required", http.StatusForbidden)
		return
	}

	c, err := s.carrierService.GetByID(r.Context(), carrierID)
	if err != nil {
		if errors.Is(err, carrier.ErrNotFound) {
			http.Error(w, "carrier not found", http.StatusNotFound)
			return
		}
		s.writeError(w, err)
		return
	}

	items, err := s.matchService.VisibleRequests(r.Context(), c)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]requestResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toRequestResponse(item))
	}
	respondJSON(w, http.StatusOK, listResponse[requestResponse]{Items: out, Total: len(out)})
}

func (s *Server) handleRequestDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/requests/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.Error(w, "request id required", http.StatusBadRequest)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.handleGetRequest(w, r, id)
	case action == "accept" && r.Method == http.MethodPost:
		s.handleAcceptRequest(w, r, id)
	case action == "reject" && r.Method == http.MethodPost:
		s.handleRejectRequest(w, r, id)
	case action == "transition" && r.Method == http.MethodPost:
		s.handleRequestTransition(w, r, id)
	case action == "cancel" && r.Method == http.MethodPost:
		s.handleCancelRequest(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request, id string) {
	req, err := s.requestService.GetByID(r.Context(), id)
	if err != nil {
		s.writeRequestError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toRequestResponse(req))
}

func (s *Server) handleAcceptRequest(w http.ResponseWriter, r *http.Request, id string) {
	carrierID := carrierIDFromContext(r.Context())
	if carrierID == "" {
		http.Error(w, "carrier session required", http.StatusForbidden)
		return
	}

	accepted, err := s.claimService.Accept(r.Context(), id, carrierID)
	if err != nil {
		if errors.Is(err, request.ErrConflict) {
			http.Error(w, "request already taken", http.StatusConflict)
			return
		}
		s.writeRequestError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toRequestResponse(accepted))
}

func (s *Server) handleRejectRequest(w http.ResponseWriter, r *http.Request, id string) {
	carrierID := carrierIDFromContext(r.Context())
	if carrierID == "" {
		http.Error(w, "carrier session required", http.StatusForbidden)
		return
	}

	if err := s.claimService.Reject(r.Context(), id, carrierID); err != nil {
		s.writeRequestError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type requestTransitionBody struct {
	Next      string  `json:"next"`
	CarrierID *string `json:"carrierId"`
}

// handleRequestTransition serves dispatcher moves and the payment webhook
// (next = paid).
func (s *Server) handleRequestTransition(w http.ResponseWriter, r *http.Request, id string) {
	if roleFromContext(r.Context()) != auth.RoleDispatcher {
		http.Error(w, "dispatcher role required", http.StatusForbidden)
		return
	}

	var body requestTransitionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	updated, err := s.requestService.Transition(r.Context(), request.TransitionParams{
		RequestID: id,
		ActorID:   accountIDFromContext(r.Context()),
		Next:      request.Status(body.Next),
		CarrierID: body.CarrierID,
	})
	if err != nil {
		s.writeRequestError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toRequestResponse(updated))
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request, id string) {
	if roleFromContext(r.Context()) != auth.RoleDispatcher {
		http.Error(w, "dispatcher role required", http.StatusForbidden)
		return
	}

	cancelled, err := s.requestService.Cancel(r.Context(), id, accountIDFromContext(r.Context()))
	if err != nil {
		s.writeRequestError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toRequestResponse(cancelled))
}

func (s *Server) handleShipments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	carrierID := r.URL.Query().Get("carrierId")
	if sessionCarrier := carrierIDFromContext(r.Context()); sessionCarrier != "" {
		// Carrier sessions only ever see their own shipments.
		carrierID = sessionCarrier
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	items, err := s.shipmentService.List(r.Context(), carrierID, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]shipmentResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toShipmentResponse(item))
	}
	respondJSON(w, http.StatusOK, listResponse[shipmentResponse]{Items: out, Total: len(out)})
}

func (s *Server) handleShipmentDetail(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/shipments/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.Error(w, "shipment id required", http.StatusBadRequest)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.handleGetShipment(w, r, id)
	case action == "history" && r.Method == http.MethodGet:
		s.handleShipmentHistory(w, r, id)
	case action == "transition" && r.Method == http.MethodPost:
		s.handleShipmentTransition(w, r, id)
	case action == "assign" && r.Method == http.MethodPost:
		s.handleAssignCrew(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGetShipment(w http.ResponseWriter, r *http.Request, id string) {
	sh, err := s.shipmentService.GetByID(r.Context(), id)
	if err != nil {
		s.writeShipmentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, toShipmentResponse(sh))
}

func (s *Server) handleShipmentHistory(w http.ResponseWriter, r *http.Request, id string) {
	entries, err := s.shipmentService.History(r.Context(), id)
	if err != nil {
		s.writeShipmentError(w, err)
		return
	}

	out := make([]historyResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, toHistoryResponse(entry))
	}
	respondJSON(w, http.StatusOK, listResponse[historyResponse]{Items: out, Total: len(out)})
}

type shipmentTransitionBody struct {
	Next string  `json:"next"`
	Note *string `json:"note"`
}

func (s *Server) handleShipmentTransition(w http.ResponseWriter, r *http.Request, id string) {
	var body shipmentTransitionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	updated, err := s.shipmentService.Transition(r.Context(), shipment.TransitionParams{
		ShipmentID: id,
		ActorID:    accountIDFromContext(r.Context()),
		Next:       shipment.Status(body.Next),
		Note:       body.Note,
	})
	if err != nil {
		s.writeShipmentError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toShipmentResponse(updated))
}

type assignCrewBody struct {
	DriverID  *string `json:"driverId"`
	VehicleID *string `json:"vehicleId"`
}

func (s *Server) handleAssignCrew(w http.ResponseWriter, r *http.Request, id string) {
	var body assignCrewBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	updated, err := s.shipmentService.AssignCrew(r.Context(), id, body.DriverID, body.VehicleID)
	if err != nil {
		s.writeShipmentError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toShipmentResponse(updated))
}

func (s *Server) handleCarriers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.carrierService.List(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	out := make([]carrierResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toCarrierResponse(item))
	}
	respondJSON(w, http.StatusOK, listResponse[carrierResponse]{Items: out, Total: len(out)})
}

func (s *Server) handleCarrier(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/carriers/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "carrier id required", http.StatusBadRequest)
		return
	}

	c, err := s.carrierService.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, carrier.ErrNotFound) {
			http.Error(w, "carrier not found", http.StatusNotFound)
			return
		}
		s.writeError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, toCarrierResponse(c))
}

// handlePromoteNow is the administrative run-now trigger for the promotion
// sweep. Safe to call at any time alongside the periodic worker.
func (s *Server) handlePromoteNow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if roleFromContext(r.Context()) != auth.RoleDispatcher {
		http.Error(w, "dispatcher role required", http.StatusForbidden)
		return
	}

	summary := s.promotionRunner.Tick(r.Context())
	respondJSON(w, http.StatusOK, summaryResponse{
		Promoted: summary.Promoted,
		Skipped:  summary.Skipped,
		Errored:  summary.Errored,
	})
}

func (s *Server) writeRequestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, request.ErrNotFound):
		http.Error(w, "request not found", http.StatusNotFound)
	case errors.Is(err, request.ErrAlreadyTerminal):
		http.Error(w, "request is closed", http.StatusConflict)
	case errors.Is(err, request.ErrConflict):
		http.Error(w, "request changed concurrently", http.StatusConflict)
	case errors.Is(err, request.ErrInvalidTransition):
		http.Error(w, "transition not allowed", http.StatusBadRequest)
	case errors.Is(err, request.ErrCarrierRequired):
		http.Error(w, "carrier required for this transition", http.StatusBadRequest)
	default:
		s.writeError(w, err)
	}
}

func (s *Server) writeShipmentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, shipment.ErrNotFound):
		http.Error(w, "shipment not found", http.StatusNotFound)
	case errors.Is(err, shipment.ErrAlreadyTerminal):
		http.Error(w, "shipment is closed", http.StatusConflict)
	case errors.Is(err, shipment.ErrConflict):
		http.Error(w, "shipment changed concurrently", http.StatusConflict)
	case errors.Is(err, shipment.ErrInvalidTransition):
		http.Error(w, "transition not allowed", http.StatusBadRequest)
	default:
		s.writeError(w, err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if s.log != nil {
		s.log.Error("request failed", zap.Error(err))
	}
	if db.IsTransient(err) {
		http.Error(w, "store temporarily unavailable, retry", http.StatusServiceUnavailable)
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func accountIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyAccountID).(string)
	return id
}

func carrierIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyCarrierID).(string)
	return id
}

func roleFromContext(ctx context.Context) auth.Role {
	role, _ := ctx.Value(ctxKeyRole).(auth.Role)
	return role
}
