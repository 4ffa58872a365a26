package handler

import (
	"ratedesk/internal/advisory"
	"ratedesk/internal/audit"
	"ratedesk/internal/negotiation/models"
)

// BulkResponse carries the updated negotiation together with the per-rate
// outcome of a bulk action or batch commit.
type BulkResponse struct {
	Negotiation *models.Negotiation    `json:"negotiation"`
	Results     []models.BulkResultRow `json:"results"`
}

// AuditTrailResponse wraps the ordered audit trail of one negotiation.
type AuditTrailResponse struct {
	Events []audit.Event `json:"events"`
}

// RecommendationsResponse carries advisory input for the open rates of a
// negotiation, in rate order. Rates without a recommendation hold nil.
type RecommendationsResponse struct {
	Recommendations []*advisory.Recommendation `json:"recommendations"`
}
