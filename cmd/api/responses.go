package main

import (
	"time"

	"freightflow/auth"
	"freightflow/carrier"
	"freightflow/request"
	"freightflow/shipment"
)

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

type loginResponse struct {
	Token   string          `json:"token"`
	Account accountResponse `json:"account"`
}

type accountResponse struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	FullName  string  `json:"fullName"`
	CarrierID *string `json:"carrierId,omitempty"`
	Role      string  `json:"role"`
	CreatedAt string  `json:"createdAt"`
}

func toAccountResponse(a auth.Account) accountResponse {
	return accountResponse{
		ID:        a.ID,
		Email:     a.Email,
		FullName:  a.FullName,
		CarrierID: a.CarrierID,
		Role:      string(a.Role),
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	}
}

type requestResponse struct {
	ID               string  `json:"id"`
	TransportTypeID  int     `json:"transportTypeId"`
	PickupCity       string  `json:"pickupCity"`
	PickupDistrict   *string `json:"pickupDistrict,omitempty"`
	DeliveryCity     string  `json:"deliveryCity"`
	DeliveryDistrict *string `json:"deliveryDistrict,omitempty"`
	Price            int64   `json:"price"`
	Status           string  `json:"status"`
	CarrierID        *string `json:"carrierId,omitempty"`
	ShipmentID       *string `json:"shipmentId,omitempty"`
	ExpiresAt        *string `json:"expiresAt,omitempty"`
	CreatedAt        string  `json:"createdAt"`
	UpdatedAt        string  `json:"updatedAt"`
}

func toRequestResponse(r request.Request) requestResponse {
	resp := requestResponse{
		ID:               r.ID,
		TransportTypeID:  r.TransportTypeID,
		PickupCity:       r.PickupRegion.City,
		PickupDistrict:   r.PickupRegion.District,
		DeliveryCity:     r.DeliveryRegion.City,
		DeliveryDistrict: r.DeliveryRegion.District,
		Price:            r.Price,
		Status:           string(r.Status),
		CarrierID:        r.CarrierID,
		ShipmentID:       r.ShipmentID,
		CreatedAt:        r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        r.UpdatedAt.Format(time.RFC3339),
	}
	if r.ExpiresAt != nil {
		expires := r.ExpiresAt.Format(time.RFC3339)
		resp.ExpiresAt = &expires
	}
	return resp
}

type shipmentResponse struct {
	ID               string  `json:"id"`
	RequestID        string  `json:"requestId"`
	CarrierID        string  `json:"carrierId"`
	DriverID         *string `json:"driverId,omitempty"`
	VehicleID        *string `json:"vehicleId,omitempty"`
	TransportTypeID  int     `json:"transportTypeId"`
	PickupCity       string  `json:"pickupCity"`
	PickupDistrict   *string `json:"pickupDistrict,omitempty"`
	DeliveryCity     string  `json:"deliveryCity"`
	DeliveryDistrict *string `json:"deliveryDistrict,omitempty"`
	Price            int64   `json:"price"`
	Status           string  `json:"status"`
	PaymentStatus    string  `json:"paymentStatus"`
	CreatedAt        string  `json:"createdAt"`
	UpdatedAt        string  `json:"updatedAt"`
}

func toShipmentResponse(sh shipment.Shipment) shipmentResponse {
	return shipmentResponse{
		ID:               sh.ID,
		RequestID:        sh.RequestID,
		CarrierID:        sh.CarrierID,
		DriverID:         sh.DriverID,
		VehicleID:        sh.VehicleID,
		TransportTypeID:  sh.TransportTypeID,
		PickupCity:       sh.PickupCity,
		PickupDistrict:   sh.PickupDistrict,
		DeliveryCity:     sh.DeliveryCity,
		DeliveryDistrict: sh.DeliveryDistrict,
		Price:            sh.Price,
		Status:           string(sh.Status),
		PaymentStatus:    sh.PaymentStatus,
		CreatedAt:        sh.CreatedAt.Format(time.RFC3339),
		UpdatedAt:        sh.UpdatedAt.Format(time.RFC3339),
	}
}

type historyResponse struct {
	Seq       int     `json:"seq"`
	Status    string  `json:"status"`
	Actor     *string `json:"actor,omitempty"`
	Note      *string `json:"note,omitempty"`
	Timestamp string  `json:"timestamp"`
}

func toHistoryResponse(e shipment.HistoryEntry) historyResponse {
	return historyResponse{
		Seq:       e.Seq,
		Status:    string(e.Status),
		Actor:     e.Actor,
		Note:      e.Note,
		Timestamp: e.Timestamp.Format(time.RFC3339),
	}
}

type carrierResponse struct {
	ID                      string   `json:"id"`
	Name                    string   `json:"name"`
	SupportedTransportTypes []int    `json:"supportedTransportTypes"`
	PickupRegions           []string `json:"pickupRegions"`
	DeliveryRegions         []string `json:"deliveryRegions"`
	Status                  string   `json:"status"`
	CreatedAt               string   `json:"createdAt"`
}

func toCarrierResponse(c carrier.Carrier) carrierResponse {
	return carrierResponse{
		ID:                      c.ID,
		Name:                    c.Name,
		SupportedTransportTypes: c.SupportedTransportTypes,
		PickupRegions:           c.PickupRegions,
		DeliveryRegions:         c.DeliveryRegions,
		Status:                  string(c.Status),
		CreatedAt:               c.CreatedAt.Format(time.RFC3339),
	}
}

type summaryResponse struct {
	Promoted int      `json:"promoted"`
	Skipped  int      `json:"skipped"`
	Errored  []string `json:"errored,omitempty"`
}
