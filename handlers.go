package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/budget_backend/config"
	"bitbucket.org/mmdatafocus/budget_backend/middlewares"
	"bitbucket.org/mmdatafocus/budget_backend/models"
	"bitbucket.org/mmdatafocus/budget_backend/utils"
	"bitbucket.org/mmdatafocus/budget_backend/workflow"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type api struct {
	planner      *workflow.Planner
	lifecycle    *models.RequestLifecycle
	approvals    *workflow.Approvals
	router       *models.NotificationRouter
	authorizer   models.Authorizer
	exportBucket string
	logger       *logrus.Logger
}

func newAPI(repo models.Repository, locker *utils.KeyLocker, publisher models.Publisher, cache *workflow.SummaryCache) *api {
	authorizer := models.NewRoleAuthorizer()
	router := models.NewNotificationRouter(repo, publisher)
	lifecycle := models.NewRequestLifecycle(repo, authorizer, router, locker)
	store := models.NewRecordStore(repo, locker)
	git := models.NewGitAggregator(repo)
	return &api{
		planner:      workflow.NewPlanner(store, lifecycle, git, authorizer, cache),
		lifecycle:    lifecycle,
		approvals:    workflow.NewApprovals(lifecycle),
		router:       router,
		authorizer:   authorizer,
		exportBucket: config.ExportBucket(),
		logger:       config.GetLogger(),
	}
}

func (a *api) register(r gin.IRouter) {
	r.POST("/distribution/preview", a.previewDistribution)

	r.POST("/line-items", a.upsertLineItem)
	r.GET("/line-items", a.listLineItems)
	r.GET("/line-items/aggregate", a.aggregateLineItems)
	r.GET("/line-items/:id", a.getLineItem)
	r.POST("/line-items/submit", a.submitLineItems)
	r.POST("/line-items/import", a.importLineItems)
	r.GET("/snapshots/:workflowId", a.getSnapshot)

	r.GET("/summaries/:year/annual", a.annualSummary)
	r.GET("/summaries/:year/monthly", a.monthlyBreakdown)
	r.GET("/summaries/:year/variance", a.varianceReport)
	r.GET("/export/:year", a.exportYear)
	r.POST("/export/:year/upload", a.uploadExport)

	r.POST("/requests", a.createRequest)
	r.GET("/requests", a.listRequests)
	r.POST("/requests/bulk-advance", a.bulkAdvance)
	r.GET("/requests/:id", a.getRequest)
	r.POST("/requests/:id/advance", a.advanceRequest)
	r.POST("/requests/:id/escalate", a.escalateRequest)
	r.POST("/requests/:id/comments", a.commentRequest)
	r.POST("/requests/:id/decision", a.decideRequest)
	r.GET("/requests/:id/transitions", a.allowedTransitions)
	r.GET("/approvals/inbox", a.approvalInbox)

	r.POST("/shipments", a.recordShipment)
	r.GET("/shipments/summary", a.shipmentSummary)
	r.GET("/shipments/search", a.searchShipments)

	r.GET("/notifications/unread", a.unreadNotifications)
	r.POST("/notifications/:id/read", a.markNotificationRead)

	r.POST("/stock-alerts", a.raiseStockAlerts)
}

func statusForError(err error) int {
	var (
		validation   *utils.ValidationError
		conservation *utils.ConservationViolation
		authz        *utils.AuthorizationError
		transition   *utils.InvalidTransitionError
		conflict     *utils.ConflictError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &conservation):
		return http.StatusBadRequest
	case errors.As(err, &authz):
		return http.StatusForbidden
	case utils.IsNotFoundError(err):
		return http.StatusNotFound
	case errors.As(err, &transition), errors.As(err, &conflict):
		return http.StatusConflict
	case errors.Is(err, utils.ErrLockNotObtained):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (a *api) writeError(c *gin.Context, funcName string, err error) {
	status := statusForError(err)
	body := gin.H{"error": err.Error()}
	var conflict *utils.ConflictError
	if errors.As(err, &conflict) {
		body["current_version"] = conflict.ActualVersion
		body["last_modified_by"] = conflict.LastModifiedBy
		if len(conflict.Fields) > 0 {
			body["fields"] = conflict.Fields
		}
	}
	if status == http.StatusInternalServerError {
		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		config.LogError(a.logger, "handlers.go", funcName, cid, c.Request.URL.Path, err)
		body["error"] = "internal error"
	}
	c.JSON(status, body)
}

func actor(c *gin.Context) (models.Actor, bool) {
	act, ok := middlewares.ActorFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return models.Actor{}, false
	}
	return act, true
}

func bindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return false
	}
	return true
}

func yearParam(c *gin.Context) (int, bool) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil || year < 1900 || year > 9999 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid year"})
		return 0, false
	}
	return year, true
}

func optionalString(c *gin.Context, key string) *string {
	if v := strings.TrimSpace(c.Query(key)); v != "" {
		return &v
	}
	return nil
}

func (a *api) previewDistribution(c *gin.Context) {
	var req workflow.DistributionRequest
	if !bindJSON(c, &req) {
		return
	}
	preview, err := workflow.PreviewDistribution(req)
	if err != nil {
		a.writeError(c, "previewDistribution", err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (a *api) upsertLineItem(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	var input models.LineItemInput
	if !bindJSON(c, &input) {
		return
	}
	item, err := a.planner.SaveLineItem(c.Request.Context(), &input, act)
	if err != nil {
		a.writeError(c, "upsertLineItem", err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func lineItemFilter(c *gin.Context) (models.LineItemFilter, bool) {
	filter := models.LineItemFilter{
		CreatedBy:      optionalString(c, "created_by"),
		CustomerKey:    optionalString(c, "customer"),
		ItemKey:        optionalString(c, "item"),
		CustomerSearch: optionalString(c, "search"),
	}
	if v := optionalString(c, "kind"); v != nil {
		kind := models.LineItemKind(*v)
		if !kind.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid kind"})
			return filter, false
		}
		filter.Kind = &kind
	}
	if v := optionalString(c, "status"); v != nil {
		status := models.LineItemStatus(*v)
		filter.Status = &status
	}
	if v := optionalString(c, "year"); v != nil {
		year, err := strconv.Atoi(*v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid year"})
			return filter, false
		}
		filter.Year = &year
	}
	return filter, true
}

func (a *api) listLineItems(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	filter, ok := lineItemFilter(c)
	if !ok {
		return
	}
	items, err := a.planner.ListLineItems(c.Request.Context(), filter, act)
	if err != nil {
		a.writeError(c, "listLineItems", err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (a *api) aggregateLineItems(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	filter, ok := lineItemFilter(c)
	if !ok {
		return
	}
	agg, err := a.planner.Aggregate(c.Request.Context(), filter, act)
	if err != nil {
		a.writeError(c, "aggregateLineItems", err)
		return
	}
	c.JSON(http.StatusOK, agg)
}

func (a *api) getLineItem(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	item, err := a.planner.GetLineItem(c.Request.Context(), c.Param("id"), act)
	if err != nil {
		a.writeError(c, "getLineItem", err)
		return
	}
	c.JSON(http.StatusOK, item)
}

type submitRequest struct {
	IDs   []string           `json:"ids" binding:"required"`
	Kind  models.RequestKind `json:"kind" binding:"required"`
	Title string             `json:"title"`
}

func (a *api) submitLineItems(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	var req submitRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := a.planner.SubmitLineItems(c.Request.Context(), req.IDs, req.Kind, req.Title, act)
	if err != nil {
		a.writeError(c, "submitLineItems", err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (a *api) getSnapshot(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	snapshot, err := a.planner.Snapshot(c.Request.Context(), c.Param("workflowId"), act)
	if err != nil {
		a.writeError(c, "getSnapshot", err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (a *api) annualSummary(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	year, ok := yearParam(c)
	if !ok {
		return
	}
	summary, err := a.planner.AnnualSummary(c.Request.Context(), year, act)
	if err != nil {
		a.writeError(c, "annualSummary", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (a *api) monthlyBreakdown(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	year, ok := yearParam(c)
	if !ok {
		return
	}
	kind := models.LineItemKind(c.DefaultQuery("kind", string(models.LineItemKindBudget)))
	totals, err := a.planner.MonthlyBreakdown(c.Request.Context(), year, kind, act)
	if err != nil {
		a.writeError(c, "monthlyBreakdown", err)
		return
	}
	c.JSON(http.StatusOK, totals)
}

func (a *api) varianceReport(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	year, ok := yearParam(c)
	if !ok {
		return
	}
	report, err := a.planner.VarianceReport(c.Request.Context(), year, act)
	if err != nil {
		a.writeError(c, "varianceReport", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (a *api) exportYear(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	year, ok := yearParam(c)
	if !ok {
		return
	}
	if err := a.authorizer.Authorize(act, models.ActionRead, "export"); err != nil {
		a.writeError(c, "exportYear", err)
		return
	}
	c.Header("Content-Type", utils.XlsxContentType)
	c.Header("Content-Disposition", "attachment; filename=budget_"+strconv.Itoa(year)+".xlsx")
	if err := a.planner.Export(c.Request.Context(), c.Writer, year, act); err != nil {
		a.writeError(c, "exportYear", err)
	}
}

func (a *api) uploadExport(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	year, ok := yearParam(c)
	if !ok {
		return
	}
	if a.exportBucket == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "EXPORT_BUCKET is not configured"})
		return
	}
	upload, err := a.planner.ExportToBucket(c.Request.Context(), a.exportBucket, year, act, config.ExportLinkLifespan())
	if err != nil {
		a.writeError(c, "uploadExport", err)
		return
	}
	c.JSON(http.StatusCreated, upload)
}

func (a *api) createRequest(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	var input models.NewRequest
	if !bindJSON(c, &input) {
		return
	}
	r, err := a.lifecycle.Create(c.Request.Context(), &input, act)
	if err != nil {
		a.writeError(c, "createRequest", err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (a *api) listRequests(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	if err := a.authorizer.Authorize(act, models.ActionRead, "request"); err != nil {
		a.writeError(c, "listRequests", err)
		return
	}
	filter := models.RequestFilter{
		CreatedBy:  optionalString(c, "created_by"),
		WorkflowId: optionalString(c, "workflow_id"),
	}
	if v := optionalString(c, "kind"); v != nil {
		kind := models.RequestKind(*v)
		filter.Kind = &kind
	}
	if v := optionalString(c, "status"); v != nil {
		status := models.RequestStatus(*v)
		filter.Status = &status
	}
	requests, err := a.lifecycle.List(c.Request.Context(), filter)
	if err != nil {
		a.writeError(c, "listRequests", err)
		return
	}
	c.JSON(http.StatusOK, requests)
}

func (a *api) getRequest(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	if err := a.authorizer.Authorize(act, models.ActionRead, "request:"+c.Param("id")); err != nil {
		a.writeError(c, "getRequest", err)
		return
	}
	r, err := a.lifecycle.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.writeError(c, "getRequest", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type advanceRequest struct {
	Status  models.RequestStatus `json:"status" binding:"required"`
	Comment string               `json:"comment"`
}

func (a *api) advanceRequest(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	var req advanceRequest
	if !bindJSON(c, &req) {
		return
	}
	r, err := a.lifecycle.Advance(c.Request.Context(), c.Param("id"), req.Status, act, req.Comment)
	if err != nil {
		a.writeError(c, "advanceRequest", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

type bulkAdvanceRequest struct {
	IDs     []string             `json:"ids" binding:"required"`
	Status  models.RequestStatus `json:"status" binding:"required"`
	Comment string               `json:"comment"`
}

func (a *api) bulkAdvance(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	var req bulkAdvanceRequest
	if !bindJSON(c, &req) {
		return
	}
	results := a.lifecycle.BulkAdvance(c.Request.Context(), utils.UniqueSlice(req.IDs), req.Status, act, req.Comment)
	c.JSON(http.StatusOK, results)
}

func (a *api) escalateRequest(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	var req models.NewComment
	if !bindJSON(c, &req) {
		return
	}
	r, err := a.lifecycle.Escalate(c.Request.Context(), c.Param("id"), act, req.Message)
	if err != nil {
		a.writeError(c, "escalateRequest", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (a *api) commentRequest(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	var req models.NewComment
	if !bindJSON(c, &req) {
		return
	}
	entry, err := a.lifecycle.AddComment(c.Request.Context(), c.Param("id"), act, req.Type, req.Message)
	if err != nil {
		a.writeError(c, "commentRequest", err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

type decisionRequest struct {
	Decision string `json:"decision" binding:"required"`
	Comment  string `json:"comment"`
}

func (a *api) decideRequest(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	var req decisionRequest
	if !bindJSON(c, &req) {
		return
	}
	r, err := a.approvals.Decide(c.Request.Context(), c.Param("id"), req.Decision, act, req.Comment)
	if err != nil {
		a.writeError(c, "decideRequest", err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (a *api) allowedTransitions(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	allowed, err := a.lifecycle.AllowedTransitions(c.Request.Context(), c.Param("id"), act)
	if err != nil {
		a.writeError(c, "allowedTransitions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transitions": allowed})
}

func (a *api) approvalInbox(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	filter := models.RequestFilter{}
	if v := optionalString(c, "kind"); v != nil {
		kind := models.RequestKind(*v)
		filter.Kind = &kind
	}
	entries, err := a.approvals.Inbox(c.Request.Context(), filter, act)
	if err != nil {
		a.writeError(c, "approvalInbox", err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func (a *api) recordShipment(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	var input models.NewShipment
	if !bindJSON(c, &input) {
		return
	}
	shipment, summary, err := a.planner.RecordShipment(c.Request.Context(), &input, act)
	if err != nil {
		a.writeError(c, "recordShipment", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"shipment": shipment, "summary": summary})
}

func (a *api) shipmentSummary(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	summary, err := a.planner.GitSummary(c.Request.Context(), c.Query("customer"), c.Query("item"), act)
	if err != nil {
		a.writeError(c, "shipmentSummary", err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (a *api) searchShipments(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	shipments, err := a.planner.SearchShipments(c.Request.Context(), c.Query("q"), act)
	if err != nil {
		a.writeError(c, "searchShipments", err)
		return
	}
	c.JSON(http.StatusOK, shipments)
}

func (a *api) unreadNotifications(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	notifications, err := a.router.UnreadFor(c.Request.Context(), act.Name, act.Role)
	if err != nil {
		a.writeError(c, "unreadNotifications", err)
		return
	}
	c.JSON(http.StatusOK, notifications)
}

func (a *api) markNotificationRead(c *gin.Context) {
	if _, ok := actor(c); !ok {
		return
	}
	if err := a.router.MarkRead(c.Request.Context(), c.Param("id")); err != nil {
		a.writeError(c, "markNotificationRead", err)
		return
	}
	c.Status(http.StatusNoContent)
}

type stockAlertRequest struct {
	Levels []models.StockLevel `json:"levels" binding:"required"`
}

func (a *api) raiseStockAlerts(c *gin.Context) {
	act, ok := actor(c)
	if !ok {
		return
	}
	var req stockAlertRequest
	if !bindJSON(c, &req) {
		return
	}
	raised, err := workflow.RaiseStockAlerts(c.Request.Context(), a.lifecycle, a.authorizer, req.Levels, act)
	if err != nil {
		a.writeError(c, "raiseStockAlerts", err)
		return
	}
	c.JSON(http.StatusCreated, raised)
}
