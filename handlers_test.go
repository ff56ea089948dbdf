package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/analytics"
	"bitbucket.org/mmdatafocus/invoicing_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

var viewNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func viewInvoice(status models.InvoiceStatus, dueDate *time.Time) models.Invoice {
	return models.Invoice{
		ID:            7,
		BusinessId:    "biz-1",
		ClientId:      3,
		ClientName:    "Acme",
		InvoiceNumber: "INV-007",
		InvoiceDate:   viewNow.Add(-30 * 24 * time.Hour),
		DueDate:       dueDate,
		Total:         decimal.RequireFromString("150"),
		CurrentStatus: status,
	}
}

func TestInvoiceView_EffectiveStatus(t *testing.T) {
	due := viewNow.Add(-24 * time.Hour)
	view, err := invoiceView(viewInvoice(models.InvoiceStatusSent, &due), viewNow)
	if err != nil {
		t.Fatalf("invoiceView: %v", err)
	}
	if view["status"] != models.InvoiceStatusOverdue {
		t.Fatalf("view status = %v, want Overdue", view["status"])
	}
}

func TestInvoiceView_MalformedRowIsAnError(t *testing.T) {
	// A stored Sent row without a due date must surface as an error, not
	// silently render with its stored status.
	_, err := invoiceView(viewInvoice(models.InvoiceStatusSent, nil), viewNow)
	var malformed *analytics.MalformedInvoiceError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedInvoiceError, got %v", err)
	}
	if malformed.InvoiceId != 7 || malformed.InvoiceNumber != "INV-007" {
		t.Fatalf("malformed row identity = (%d, %q)", malformed.InvoiceId, malformed.InvoiceNumber)
	}
}

func TestMalformedInvoiceResponse_Payload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	err := &analytics.MalformedInvoiceError{InvoiceId: 7, InvoiceNumber: "INV-007", Reason: "due date is required"}
	if !malformedInvoiceResponse(c, err) {
		t.Fatal("malformed error not recognized")
	}
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["invoice_id"] != float64(7) || body["invoice_number"] != "INV-007" {
		t.Fatalf("body identifies wrong row: %v", body)
	}
	if body["reason"] != "due date is required" {
		t.Fatalf("body reason = %v", body["reason"])
	}
}

func TestMalformedInvoiceResponse_OtherErrorsPassThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	if malformedInvoiceResponse(c, errors.New("connection refused")) {
		t.Fatal("plain error treated as malformed invoice")
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("response written for non-malformed error: %s", rec.Body.String())
	}
}
