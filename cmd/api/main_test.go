package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"freightflow/auth"
	"freightflow/carrier"
	"freightflow/promotion"
	"freightflow/request"
	"freightflow/shipment"
)

type stubCarrierRepo struct {
	carrier  carrier.Carrier
	carriers []carrier.Carrier
	err      error
}

func (s *stubCarrierRepo) GetByID(_ context.Context, _ string) (carrier.Carrier, error) {
	return s.carrier, s.err
}

func (s *stubCarrierRepo) List(_ context.Context, limit int) ([]carrier.Carrier, error) {
	if s.err != nil {
		return nil, s.err
	}
	if limit <= 0 || limit > len(s.carriers) {
		limit = len(s.carriers)
	}
	out := make([]carrier.Carrier, limit)
	copy(out, s.carriers[:limit])
	return out, nil
}

type stubRequestService struct {
	created       request.Request
	createErr     error
	got           request.Request
	getErr        error
	listItems     []request.Request
	listTotal     int
	listErr       error
	transitioned  request.Request
	transitionErr error
}

func (s *stubRequestService) Create(_ context.Context, _ request.CreateParams) (request.Request, error) {
	return s.created, s.createErr
}

func (s *stubRequestService) GetByID(_ context.Context, _ string) (request.Request, error) {
	return s.got, s.getErr
}

func (s *stubRequestService) List(_ context.Context, _ request.Filters) ([]request.Request, int, error) {
	return s.listItems, s.listTotal, s.listErr
}

func (s *stubRequestService) Transition(_ context.Context, _ request.TransitionParams) (request.Request, error) {
	return s.transitioned, s.transitionErr
}

func (s *stubRequestService) Cancel(_ context.Context, _, _ string) (request.Request, error) {
	return s.transitioned, s.transitionErr
}

type stubClaimService struct {
	accepted  request.Request
	acceptErr error
	rejectErr error
}

func (s *stubClaimService) Accept(_ context.Context, _, _ string) (request.Request, error) {
	return s.accepted, s.acceptErr
}

func (s *stubClaimService) Reject(_ context.Context, _, _ string) error {
	return s.rejectErr
}

type stubMatchService struct {
	visible []request.Request
	err     error
}

func (s *stubMatchService) VisibleRequests(_ context.Context, _ carrier.Carrier) ([]request.Request, error) {
	return s.visible, s.err
}

type stubShipmentService struct {
	shipment      shipment.Shipment
	err           error
	history       []shipment.HistoryEntry
	historyErr    error
	listShipments []shipment.Shipment
	listErr       error
}

func (s *stubShipmentService) GetByID(_ context.Context, _ string) (shipment.Shipment, error) {
	return s.shipment, s.err
}

func (s *stubShipmentService) List(_ context.Context, _ string, _ int) ([]shipment.Shipment, error) {
	return s.listShipments, s.listErr
}

func (s *stubShipmentService) Transition(_ context.Context, _ shipment.TransitionParams) (shipment.Shipment, error) {
	return s.shipment, s.err
}

func (s *stubShipmentService) History(_ context.Context, _ string) ([]shipment.HistoryEntry, error) {
	return s.history, s.historyErr
}

func (s *stubShipmentService) AssignCrew(_ context.Context, _ string, _, _ *string) (shipment.Shipment, error) {
	return s.shipment, s.err
}

type stubPromotionRunner struct {
	summary promotion.Summary
}

func (s *stubPromotionRunner) Tick(_ context.Context) promotion.Summary {
	return s.summary
}

func carrierContext(r *http.Request, carrierID string) *http.Request {
	ctx := context.WithValue(r.Context(), ctxKeyAccountID, "account-1")
	ctx = context.WithValue(ctx, ctxKeyCarrierID, carrierID)
	ctx = context.WithValue(ctx, ctxKeyRole, auth.RoleCarrier)
	return r.WithContext(ctx)
}

func dispatcherContext(r *http.Request) *http.Request {
	ctx := context.WithValue(r.Context(), ctxKeyAccountID, "account-ops")
	ctx = context.WithValue(ctx, ctxKeyRole, auth.RoleDispatcher)
	return r.WithContext(ctx)
}

func TestHandleCarrier_Success(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	server := &Server{
		carrierService: carrier.NewService(&stubCarrierRepo{
			carrier: carrier.Carrier{
				ID:                      "c1",
				Name:                    "Anadolu Lojistik",
				SupportedTransportTypes: []int{1, 2},
				Status:                  carrier.StatusActive,
				CreatedAt:               now,
			},
		}),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/carriers/c1", nil)
	rec := httptest.NewRecorder()

	server.handleCarrier(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}

	var resp carrierResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if resp.ID != "c1" || resp.Name != "Anadolu Lojistik" || resp.Status != "active" {
		t.Fatalf("unexpected response payload: %+v", resp)
	}
	if resp.CreatedAt != now.Format(time.RFC3339) {
		t.Fatalf("expected createdAt %s, got %s", now.Format(time.RFC3339), resp.CreatedAt)
	}
}

func TestHandleCarrier_NotFound(t *testing.T) {
	server := &Server{
		carrierService: carrier.NewService(&stubCarrierRepo{
			err: carrier.ErrNotFound,
		}),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/carriers/missing", nil)
	rec := httptest.NewRecorder()

	server.handleCarrier(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleCarrier_InvalidPath(t *testing.T) {
	server := &Server{
		carrierService: carrier.NewService(&stubCarrierRepo{}),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/carriers/", nil)
	rec := httptest.NewRecorder()

	server.handleCarrier(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCarrier_WrongMethod(t *testing.T) {
	server := &Server{
		carrierService: carrier.NewService(&stubCarrierRepo{}),
	}

	req := httptest.NewRequest(http.MethodPost, "/api/carriers/c1", nil)
	rec := httptest.NewRecorder()

	server.handleCarrier(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestHandleCarriers_List(t *testing.T) {
	now := time.Now().UTC()
	server := &Server{
		carrierService: carrier.NewService(&stubCarrierRepo{
			carriers: []carrier.Carrier{
				{ID: "c1", Name: "Anadolu Lojistik", Status: carrier.StatusActive, CreatedAt: now},
				{ID: "c2", Name: "Marmara Nakliyat", Status: carrier.StatusActive, CreatedAt: now},
			},
		}),
	}

	req := httptest.NewRequest(http.MethodGet, "/api/carriers?limit=1", nil)
	rec := httptest.NewRecorder()

	server.handleCarriers(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload listResponse[carrierResponse]
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Total != 1 || payload.Items[0].ID != "c1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHandleVisibleRequests_Success(t *testing.T) {
	now := time.Now().UTC()
	server := &Server{
		carrierService: carrier.NewService(&stubCarrierRepo{
			carrier: carrier.Carrier{ID: "c1", SupportedTransportTypes: []int{1}, Status: carrier.StatusActive},
		}),
		matchService: &stubMatchService{
			visible: []request.Request{
				{ID: "r1", TransportTypeID: 1, Status: request.StatusNew, Price: 45000, CreatedAt: now, UpdatedAt: now},
			},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/requests/visible", nil)
	rec := httptest.NewRecorder()

	server.handleVisibleRequests(rec, carrierContext(req, "c1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload listResponse[requestResponse]
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].ID != "r1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHandleVisibleRequests_RequiresCarrierSession(t *testing.T) {
	server := &Server{}

	req := httptest.NewRequest(http.MethodGet, "/api/requests/visible", nil)
	rec := httptest.NewRecorder()

	server.handleVisibleRequests(rec, dispatcherContext(req))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleAcceptRequest_Success(t *testing.T) {
	carrierID := "c1"
	server := &Server{
		claimService: &stubClaimService{
			accepted: request.Request{ID: "r1", Status: request.StatusAccepted, CarrierID: &carrierID},
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/requests/r1/accept", nil)
	rec := httptest.NewRecorder()

	server.handleRequestDetail(rec, carrierContext(req, carrierID))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp requestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "accepted" || resp.CarrierID == nil || *resp.CarrierID != carrierID {
		t.Fatalf("unexpected payload: %+v", resp)
	}
}

func TestHandleAcceptRequest_AlreadyTaken(t *testing.T) {
	server := &Server{
		claimService: &stubClaimService{acceptErr: request.ErrConflict},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/requests/r1/accept", nil)
	rec := httptest.NewRecorder()

	server.handleRequestDetail(rec, carrierContext(req, "c2"))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "already taken") {
		t.Fatalf("expected already-taken body, got %q", rec.Body.String())
	}
}

func TestHandleRejectRequest_NoContent(t *testing.T) {
	server := &Server{
		claimService: &stubClaimService{},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/requests/r1/reject", nil)
	rec := httptest.NewRecorder()

	server.handleRequestDetail(rec, carrierContext(req, "c1"))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestHandleCreateRequest_ForbidCarrierRole(t *testing.T) {
	server := &Server{}

	body := strings.NewReader(`{"transportTypeId":1,"pickupCity":"Istanbul","deliveryCity":"Ankara","price":45000}`)
	req := httptest.NewRequest(http.MethodPost, "/api/requests", body)
	rec := httptest.NewRecorder()

	server.handleRequests(rec, carrierContext(req, "c1"))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleCreateRequest_ValidationError(t *testing.T) {
	server := &Server{
		requestService: &stubRequestService{
			createErr: errors.New("request: price must be positive"),
		},
	}

	body := strings.NewReader(`{"transportTypeId":1,"pickupCity":"Istanbul","deliveryCity":"Ankara","price":-5}`)
	req := httptest.NewRequest(http.MethodPost, "/api/requests", body)
	rec := httptest.NewRecorder()

	server.handleRequests(rec, dispatcherContext(req))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleRequestTransition_InvalidTransition(t *testing.T) {
	server := &Server{
		requestService: &stubRequestService{transitionErr: request.ErrInvalidTransition},
	}

	body := strings.NewReader(`{"next":"accepted"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/requests/r1/transition", body)
	rec := httptest.NewRecorder()

	server.handleRequestDetail(rec, dispatcherContext(req))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleRequestTransition_ForbidCarrierRole(t *testing.T) {
	server := &Server{}

	body := strings.NewReader(`{"next":"paid"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/requests/r1/transition", body)
	rec := httptest.NewRecorder()

	server.handleRequestDetail(rec, carrierContext(req, "c1"))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleShipmentTransition_AlreadyTerminal(t *testing.T) {
	server := &Server{
		shipmentService: &stubShipmentService{err: shipment.ErrAlreadyTerminal},
	}

	body := strings.NewReader(`{"next":"in_progress"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/shipments/s1/transition", body)
	rec := httptest.NewRecorder()

	server.handleShipmentDetail(rec, carrierContext(req, "c1"))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleShipmentHistory_Success(t *testing.T) {
	now := time.Now().UTC()
	note := shipment.InitialNote
	server := &Server{
		shipmentService: &stubShipmentService{
			history: []shipment.HistoryEntry{
				{ShipmentID: "s1", Seq: 1, Status: shipment.StatusWaitingPickup, Note: &note, Timestamp: now},
			},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/shipments/s1/history", nil)
	rec := httptest.NewRecorder()

	server.handleShipmentDetail(rec, carrierContext(req, "c1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload listResponse[historyResponse]
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].Seq != 1 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHandlePromoteNow_Success(t *testing.T) {
	server := &Server{
		promotionRunner: &stubPromotionRunner{
			summary: promotion.Summary{Promoted: 3, Skipped: 1},
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/admin/promote", nil)
	rec := httptest.NewRecorder()

	server.handlePromoteNow(rec, dispatcherContext(req))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp summaryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Promoted != 3 || resp.Skipped != 1 {
		t.Fatalf("unexpected summary: %+v", resp)
	}
}

func TestHandlePromoteNow_ForbidCarrierRole(t *testing.T) {
	server := &Server{}

	req := httptest.NewRequest(http.MethodPost, "/api/admin/promote", nil)
	rec := httptest.NewRecorder()

	server.handlePromoteNow(rec, carrierContext(req, "c1"))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleGetRequest_StoreUnavailable(t *testing.T) {
	server := &Server{
		requestService: &stubRequestService{
			getErr: fmt.Errorf("request: get: %w", &pgconn.PgError{Code: "57P01"}),
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/requests/r1", nil)
	rec := httptest.NewRecorder()

	server.handleRequestDetail(rec, carrierContext(req, "c1"))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for a dropped backend, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "retry") {
		t.Fatalf("expected a retryable hint in the body, got %q", rec.Body.String())
	}
}

func TestHandleGetRequest_UnknownErrorStays500(t *testing.T) {
	server := &Server{
		requestService: &stubRequestService{
			getErr: errors.New("request: scan: corrupt row"),
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/requests/r1", nil)
	rec := httptest.NewRecorder()

	server.handleRequestDetail(rec, carrierContext(req, "c1"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
