package main

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/invoicing_backend/analytics"
	"bitbucket.org/mmdatafocus/invoicing_backend/config"
	"bitbucket.org/mmdatafocus/invoicing_backend/models"
	"bitbucket.org/mmdatafocus/invoicing_backend/models/reports"
	"bitbucket.org/mmdatafocus/invoicing_backend/utils"
	"bitbucket.org/mmdatafocus/invoicing_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

func bindError(c *gin.Context, err error) {
	var verr validator.ValidationErrors
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(verr)})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// malformedInvoiceResponse writes the 422 payload shared by every surface
// that derives effective statuses, so the dashboard, the list views, and the
// export all report a bad stored row the same way. Returns false when err is
// not a malformed-invoice error.
func malformedInvoiceResponse(c *gin.Context, err error) bool {
	var malformed *analytics.MalformedInvoiceError
	if !errors.As(err, &malformed) {
		return false
	}
	c.JSON(http.StatusUnprocessableEntity, gin.H{
		"error":          "malformed invoice in collection",
		"invoice_id":     malformed.InvoiceId,
		"invoice_number": malformed.InvoiceNumber,
		"reason":         malformed.Reason,
	})
	return true
}

// invoiceView is the list projection: stored columns plus the effective
// status derived at render time.
func invoiceView(invoice models.Invoice, now time.Time) (gin.H, error) {
	effective, err := analytics.ResolveStatus(invoice, now)
	if err != nil {
		return nil, err
	}
	return gin.H{
		"id":             invoice.ID,
		"client_id":      invoice.ClientId,
		"client_name":    invoice.ClientName,
		"invoice_number": invoice.InvoiceNumber,
		"invoice_date":   invoice.InvoiceDate,
		"due_date":       invoice.DueDate,
		"total":          invoice.Total,
		"status":         effective,
		"paid_at":        invoice.PaidAt,
		"notes":          invoice.Notes,
	}, nil
}

func pathId(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func loginHandler() gin.HandlerFunc {
	type loginInput struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	return func(c *gin.Context) {
		var input loginInput
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		token, user, err := models.Login(c.Request.Context(), input.Username, input.Password)
		if errors.Is(err, models.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "user": user})
	}
}

// dashboardHandler recomputes the revenue summary from the invoice snapshot
// on every call. A tenant with no invoices gets the zero summary with 200; a
// malformed stored row gets 422 so the client can tell "nothing to report"
// apart from "cannot report".
func dashboardHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "dashboard.aggregate")
		defer span.End()
		now := time.Now().UTC()

		invoices, err := models.GetInvoicesForReporting(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		summary, err := analytics.AggregateInvoices(invoices, now)
		if err != nil {
			if malformedInvoiceResponse(c, err) {
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		recent, err := models.GetRecentInvoices(ctx, 5)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		recentViews := make([]gin.H, 0, len(recent))
		for _, invoice := range recent {
			status, err := analytics.ResolveStatus(*invoice, now)
			if err != nil {
				if malformedInvoiceResponse(c, err) {
					return
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			recentViews = append(recentViews, gin.H{
				"id":             invoice.ID,
				"invoice_number": invoice.InvoiceNumber,
				"client_name":    invoice.ClientName,
				"total":          invoice.Total,
				"status":         status,
				"due_date":       invoice.DueDate,
			})
		}

		c.JSON(http.StatusOK, gin.H{"summary": summary, "recent_invoices": recentViews})
	}
}

func listInvoicesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		now := time.Now().UTC()

		var clientId *int
		if v := c.Query("client_id"); v != "" {
			id, err := strconv.Atoi(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client_id"})
				return
			}
			clientId = &id
		}
		var status *models.InvoiceStatus
		if v := c.Query("status"); v != "" {
			s, err := models.ParseInvoiceStatus(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			status = &s
		}
		var number *string
		if v := c.Query("invoice_number"); v != "" {
			number = &v
		}

		invoices, err := models.GetInvoices(ctx, clientId, status, number)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		// The list view shows effective statuses; the filter above matched
		// stored ones, so re-derive per row for display.
		views := make([]gin.H, 0, len(invoices))
		for _, invoice := range invoices {
			view, err := invoiceView(*invoice, now)
			if err != nil {
				if malformedInvoiceResponse(c, err) {
					return
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			views = append(views, view)
		}
		c.JSON(http.StatusOK, gin.H{"invoices": views})
	}
}

func getInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		invoice, err := models.GetInvoice(c.Request.Context(), id)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		status, err := analytics.ResolveStatus(*invoice, time.Now().UTC())
		if err != nil {
			if malformedInvoiceResponse(c, err) {
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"invoice": invoice, "effective_status": status})
	}
}

func createInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewInvoice
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		invoice, err := models.CreateInvoice(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"invoice": invoice})
	}
}

func updateInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.NewInvoice
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		invoice, err := models.UpdateInvoice(c.Request.Context(), id, &input)
		if errors.Is(err, models.ErrDraftOnly) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"invoice": invoice})
	}
}

func deleteInvoiceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		_, err := models.DeleteInvoice(c.Request.Context(), id)
		if errors.Is(err, models.ErrDraftOnly) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func updateInvoiceStatusHandler() gin.HandlerFunc {
	type statusInput struct {
		Status models.InvoiceStatus `json:"status" binding:"required"`
	}
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input statusInput
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		invoice, err := models.UpdateStatusInvoice(c.Request.Context(), id, input.Status)
		if errors.Is(err, models.ErrTerminalStatus) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"invoice": invoice})
	}
}

func recordPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.NewInvoicePayment
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		invoice, err := models.RecordInvoicePayment(c.Request.Context(), id, &input)
		if errors.Is(err, models.ErrTerminalStatus) || errors.Is(err, models.ErrConcurrentUpdateConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invoice not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"invoice": invoice})
	}
}

func listPaymentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		payments, err := models.GetInvoicePayments(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"payments": payments})
	}
}

func invoiceHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		histories, err := models.GetHistories(c.Request.Context(), "Invoice", id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"histories": histories})
	}
}

func exportInvoicesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		now := time.Now().UTC()
		invoices, err := models.GetInvoicesForReporting(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		// Build the whole workbook first. Errors must come back as JSON with
		// the right status, not as garbage after spreadsheet headers.
		var buf bytes.Buffer
		if err := reports.WriteInvoiceRegister(&buf, invoices, now); err != nil {
			if malformedInvoiceResponse(c, err) {
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Disposition", "attachment; filename=invoices.xlsx")
		c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
	}
}

func meHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId, ok := utils.GetUserIdFromContext(c.Request.Context())
		if !ok || userId <= 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		user, err := models.GetUser(c.Request.Context(), userId)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": user})
	}
}

func getClientHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		client, err := models.GetClient(c.Request.Context(), id)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "client not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"client": client})
	}
}

func listClientsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var name *string
		if v := c.Query("name"); v != "" {
			name = &v
		}
		clients, err := models.GetClients(c.Request.Context(), name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"clients": clients})
	}
}

func createClientHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var input models.NewClient
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		client, err := models.CreateClient(c.Request.Context(), &input)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"client": client})
	}
}

func updateClientHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathId(c)
		if !ok {
			return
		}
		var input models.NewClient
		if err := c.ShouldBindJSON(&input); err != nil {
			bindError(c, err)
			return
		}
		client, err := models.UpdateClient(c.Request.Context(), id, &input)
		if errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "client not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"client": client})
	}
}

// reconcileOverdueHandler triggers the overdue sweep for the caller's
// business. The message id defaults to the business-local calendar date, so a
// scheduler firing more than once a day is deduplicated by the idempotency
// key, and "daily" means the tenant's day rather than UTC's.
func reconcileOverdueHandler() gin.HandlerFunc {
	type reconcileInput struct {
		MessageId string `json:"message_id"`
	}
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		businessId, ok := utils.GetBusinessIdFromContext(ctx)
		if !ok || businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var input reconcileInput
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&input); err != nil {
				bindError(c, err)
				return
			}
		}
		now := time.Now().UTC()
		if input.MessageId == "" {
			input.MessageId = workflow.ReconcileMessageId(now, models.GetBusinessTimezone(ctx))
		}

		logger := config.GetLogger()
		result, err := workflow.ProcessOverdueReconcile(ctx, config.GetDB(), logger, businessId, input.MessageId, now)
		if errors.Is(err, workflow.ErrIdempotencyInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": "a reconcile run is already in progress"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": result})
	}
}
