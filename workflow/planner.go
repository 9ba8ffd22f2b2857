package workflow

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/budget_backend/config"
	"bitbucket.org/mmdatafocus/budget_backend/models"
	"bitbucket.org/mmdatafocus/budget_backend/models/reports"
	"bitbucket.org/mmdatafocus/budget_backend/utils"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("budget-workflow")

// Planner is the entry point for line item work: saving, submitting,
// reporting and keeping goods-in-transit quantities current. Every
// mutation is authorized here before it reaches the store.
type Planner struct {
	Store      *models.RecordStore
	Lifecycle  *models.RequestLifecycle
	Git        *models.GitAggregator
	Authorizer models.Authorizer
	Cache      *SummaryCache
	Logger     *logrus.Logger
}

func NewPlanner(store *models.RecordStore, lifecycle *models.RequestLifecycle, git *models.GitAggregator, authorizer models.Authorizer, cache *SummaryCache) *Planner {
	if authorizer == nil {
		authorizer = models.NewRoleAuthorizer()
	}
	return &Planner{
		Store:      store,
		Lifecycle:  lifecycle,
		Git:        git,
		Authorizer: authorizer,
		Cache:      cache,
		Logger:     config.GetLogger(),
	}
}

// DistributionRequest previews how a quantity lands on the twelve periods.
// Method is equal (default), percentage or seasonal.
type DistributionRequest struct {
	Method     string          `json:"method"`
	Quantity   int             `json:"quantity"`
	Total      decimal.Decimal `json:"total"`
	Percentage decimal.Decimal `json:"percentage"`
	Policy     string          `json:"policy"`
}

type DistributionPreview struct {
	Labels  [models.PeriodCount]string `json:"labels"`
	Periods [models.PeriodCount]int    `json:"periods"`
	Total   int                        `json:"total"`
}

func PreviewDistribution(req DistributionRequest) (*DistributionPreview, error) {
	policy := models.DefaultRemainderPolicy()
	if req.Policy != "" {
		policy = models.RemainderPolicy(req.Policy)
	}
	var (
		periods [models.PeriodCount]int
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(req.Method)) {
	case "", "equal":
		periods, err = models.DistributeEquallyWithPolicy(req.Quantity, policy)
	case "percentage":
		periods, err = models.DistributeByPercentageWithPolicy(req.Total, req.Percentage, policy)
	case "seasonal":
		periods, err = models.DistributeSeasonal(req.Quantity, models.DefaultSeasonalWeights, policy)
	default:
		return nil, utils.NewValidationError("method", "unknown distribution method %q", req.Method)
	}
	if err != nil {
		return nil, err
	}
	return &DistributionPreview{Labels: models.PeriodLabels, Periods: periods, Total: models.SumPeriods(periods)}, nil
}

func (p *Planner) SaveLineItem(ctx context.Context, input *models.LineItemInput, actor models.Actor) (*models.LineItem, error) {
	ctx, span := tracer.Start(ctx, "Planner.SaveLineItem")
	defer span.End()

	if err := p.Authorizer.Authorize(actor, models.ActionUpsertLineItem, "lineItem"); err != nil {
		return nil, err
	}
	var previousYear int
	if input != nil && input.ID != nil {
		if existing, err := p.Store.Get(ctx, *input.ID); err == nil {
			previousYear = existing.Year
		}
	}
	item, err := p.Store.Upsert(ctx, input, actor)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("lineItem.id", item.ID), attribute.Int("lineItem.version", item.Version))
	p.invalidate(ctx, item.Year, previousYear)
	return item, nil
}

func (p *Planner) GetLineItem(ctx context.Context, id string, actor models.Actor) (*models.LineItem, error) {
	if err := p.Authorizer.Authorize(actor, models.ActionRead, "lineItem:"+id); err != nil {
		return nil, err
	}
	return p.Store.Get(ctx, id)
}

func (p *Planner) ListLineItems(ctx context.Context, filter models.LineItemFilter, actor models.Actor) ([]*models.LineItem, error) {
	if err := p.Authorizer.Authorize(actor, models.ActionRead, "lineItem"); err != nil {
		return nil, err
	}
	return p.Store.List(ctx, filter)
}

func (p *Planner) SearchByCustomer(ctx context.Context, customer string, actor models.Actor) ([]*models.LineItem, error) {
	if err := p.Authorizer.Authorize(actor, models.ActionRead, "lineItem"); err != nil {
		return nil, err
	}
	return p.Store.QueryByCustomer(ctx, customer)
}

func (p *Planner) Aggregate(ctx context.Context, filter models.LineItemFilter, actor models.Actor) (*models.LineItemAggregate, error) {
	if err := p.Authorizer.Authorize(actor, models.ActionRead, "lineItem"); err != nil {
		return nil, err
	}
	return p.Store.Aggregate(ctx, filter)
}

type SubmissionResult struct {
	Snapshot *models.SubmissionSnapshot `json:"snapshot"`
	Request  *models.Request            `json:"request"`
}

// SubmitLineItems freezes ids into a snapshot and opens the submission
// request that carries them through review. The request creation notifies
// managers.
func (p *Planner) SubmitLineItems(ctx context.Context, ids []string, kind models.RequestKind, title string, actor models.Actor) (*SubmissionResult, error) {
	ctx, span := tracer.Start(ctx, "Planner.SubmitLineItems")
	defer span.End()

	if !kind.IsSubmission() {
		return nil, utils.NewValidationError("kind", "%q is not a submission kind", kind)
	}
	if err := p.Authorizer.Authorize(actor, models.ActionSubmit, "lineItem"); err != nil {
		return nil, err
	}
	workflowID := uuid.NewString()
	snapshot, err := p.Store.Submit(ctx, ids, workflowID, actor)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("workflow.id", workflowID), attribute.Int("lineItem.count", len(snapshot.Items)))

	quantity := 0
	years := map[int]bool{}
	for _, item := range snapshot.Items {
		quantity += item.TotalQuantity()
		years[item.Year] = true
	}
	if strings.TrimSpace(title) == "" {
		title = fmt.Sprintf("%s submission by %s (%d items)", utils.UppercaseFirst(strings.TrimSuffix(string(kind), "_submission")), actor.Name, len(snapshot.Items))
	}
	req, err := p.Lifecycle.Create(ctx, &models.NewRequest{
		Kind:       kind,
		Title:      title,
		Quantity:   quantity,
		WorkflowId: workflowID,
	}, actor)
	if err != nil {
		config.LogError(p.Logger, "Planner", "SubmitLineItems", workflowID, ids, err)
		return nil, err
	}
	for year := range years {
		p.invalidate(ctx, year, 0)
	}
	return &SubmissionResult{Snapshot: snapshot, Request: req}, nil
}

func (p *Planner) Snapshot(ctx context.Context, workflowID string, actor models.Actor) (*models.SubmissionSnapshot, error) {
	if err := p.Authorizer.Authorize(actor, models.ActionRead, "snapshot:"+workflowID); err != nil {
		return nil, err
	}
	return p.Store.Snapshot(ctx, workflowID)
}

// RecordShipment stores a shipment and pushes the recomputed GIT quantity
// onto the matching line items.
func (p *Planner) RecordShipment(ctx context.Context, input *models.NewShipment, actor models.Actor) (*models.Shipment, *models.GitSummary, error) {
	ctx, span := tracer.Start(ctx, "Planner.RecordShipment")
	defer span.End()

	if err := p.Authorizer.Authorize(actor, models.ActionRecordShipment, "shipment"); err != nil {
		return nil, nil, err
	}
	shipment, err := p.Git.Record(ctx, input, actor.Name)
	if err != nil {
		return nil, nil, err
	}
	summary, err := p.RecomputeGit(ctx, shipment.Customer, shipment.Item)
	if err != nil {
		return shipment, nil, err
	}
	return shipment, summary, nil
}

func (p *Planner) RecomputeGit(ctx context.Context, customer string, item string) (*models.GitSummary, error) {
	summary, err := p.Git.Summarize(ctx, customer, item)
	if err != nil {
		return nil, err
	}
	touched, err := p.Store.ApplyGitQuantity(ctx, customer, item, summary.GitQuantity)
	if err != nil {
		return nil, err
	}
	p.Logger.WithFields(logrus.Fields{
		"customer":     summary.Customer,
		"item":         summary.Item,
		"git_quantity": summary.GitQuantity,
		"line_items":   touched,
	}).Debug("recomputed goods in transit")
	return summary, nil
}

func (p *Planner) GitSummary(ctx context.Context, customer string, item string, actor models.Actor) (*models.GitSummary, error) {
	if err := p.Authorizer.Authorize(actor, models.ActionRead, "shipment"); err != nil {
		return nil, err
	}
	return p.Git.Summarize(ctx, customer, item)
}

func (p *Planner) SearchShipments(ctx context.Context, query string, actor models.Actor) ([]*models.Shipment, error) {
	if err := p.Authorizer.Authorize(actor, models.ActionRead, "shipment"); err != nil {
		return nil, err
	}
	return p.Git.Search(ctx, query)
}

func (p *Planner) itemsForYear(ctx context.Context, year int, kind *models.LineItemKind) ([]*models.LineItem, error) {
	return p.Store.List(ctx, models.LineItemFilter{Year: &year, Kind: kind})
}

func (p *Planner) AnnualSummary(ctx context.Context, year int, actor models.Actor) (*reports.AnnualSummary, error) {
	if err := p.Authorizer.Authorize(actor, models.ActionRead, "summary"); err != nil {
		return nil, err
	}
	var cached reports.AnnualSummary
	if p.Cache.Get(ctx, year, "annual", &cached) {
		return &cached, nil
	}
	defer reports.LogSlowReport(ctx, "annual", time.Now(), logrus.Fields{"year": year})
	items, err := p.itemsForYear(ctx, year, nil)
	if err != nil {
		return nil, err
	}
	summary := reports.BuildAnnualSummary(items, year)
	p.Cache.Set(ctx, year, "annual", summary)
	return &summary, nil
}

func (p *Planner) MonthlyBreakdown(ctx context.Context, year int, kind models.LineItemKind, actor models.Actor) ([]reports.MonthlyTotal, error) {
	if err := p.Authorizer.Authorize(actor, models.ActionRead, "summary"); err != nil {
		return nil, err
	}
	if !kind.IsValid() {
		return nil, utils.NewValidationError("kind", "invalid line item kind %q", kind)
	}
	name := "monthly:" + string(kind)
	var cached []reports.MonthlyTotal
	if p.Cache.Get(ctx, year, name, &cached) {
		return cached, nil
	}
	defer reports.LogSlowReport(ctx, name, time.Now(), logrus.Fields{"year": year})
	items, err := p.itemsForYear(ctx, year, &kind)
	if err != nil {
		return nil, err
	}
	totals := reports.MonthlyBreakdown(items)
	p.Cache.Set(ctx, year, name, totals)
	return totals, nil
}

type VarianceReport struct {
	Year      int                     `json:"year"`
	Variances []models.Variance       `json:"variances"`
	Summary   reports.VarianceSummary `json:"summary"`
}

func (p *Planner) VarianceReport(ctx context.Context, year int, actor models.Actor) (*VarianceReport, error) {
	if err := p.Authorizer.Authorize(actor, models.ActionRead, "summary"); err != nil {
		return nil, err
	}
	var cached VarianceReport
	if p.Cache.Get(ctx, year, "variance", &cached) {
		return &cached, nil
	}
	defer reports.LogSlowReport(ctx, "variance", time.Now(), logrus.Fields{"year": year})
	items, err := p.itemsForYear(ctx, year, nil)
	if err != nil {
		return nil, err
	}
	variances := reports.PairVariances(items, year)
	report := VarianceReport{Year: year, Variances: variances, Summary: reports.SummarizeVariances(variances)}
	p.Cache.Set(ctx, year, "variance", report)
	return &report, nil
}

// Export writes the xlsx planning export of year into w.
func (p *Planner) Export(ctx context.Context, w io.Writer, year int, actor models.Actor) error {
	ctx, span := tracer.Start(ctx, "Planner.Export")
	defer span.End()

	if err := p.Authorizer.Authorize(actor, models.ActionRead, "export"); err != nil {
		return err
	}
	items, err := p.itemsForYear(ctx, year, nil)
	if err != nil {
		return err
	}
	return reports.WriteExcel(w, reports.BuildExportRows(items, year), year)
}

// ExportUpload is where an uploaded export landed. Download is nil when the
// link could not be signed; the object is still there.
type ExportUpload struct {
	Bucket   string                `json:"bucket"`
	Object   string                `json:"object"`
	Download *utils.SignedDownload `json:"download,omitempty"`
}

// ExportToBucket uploads the export of year to bucket and signs a download
// link valid for linkLifespan.
func (p *Planner) ExportToBucket(ctx context.Context, bucket string, year int, actor models.Actor, linkLifespan time.Duration) (*ExportUpload, error) {
	var buf bytes.Buffer
	if err := p.Export(ctx, &buf, year, actor); err != nil {
		return nil, err
	}
	objectName := fmt.Sprintf("exports/budget_%d_%s.xlsx", year, time.Now().UTC().Format("20060102T150405"))
	if err := utils.UploadBytesToGCS(ctx, bucket, objectName, buf.Bytes(), utils.XlsxContentType); err != nil {
		return nil, err
	}
	upload := &ExportUpload{Bucket: bucket, Object: objectName}
	download, err := utils.SignDownload(ctx, bucket, objectName, linkLifespan)
	if err != nil {
		config.LogError(p.Logger, "Planner", "ExportToBucket", objectName, bucket, err)
		return upload, nil
	}
	upload.Download = download
	return upload, nil
}

// ImportFailure is a sheet row that could not be saved.
type ImportFailure struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

type ImportResult struct {
	Saved  []*models.LineItem `json:"saved"`
	Failed []ImportFailure    `json:"failed"`
}

// ImportSheet upserts every row of an xlsx planning sheet as a kind line item
// of year. A malformed sheet fails as a whole; a row the store rejects is
// reported in Failed and the rest are still saved.
func (p *Planner) ImportSheet(ctx context.Context, r io.Reader, kind models.LineItemKind, year int, actor models.Actor) (*ImportResult, error) {
	ctx, span := tracer.Start(ctx, "Planner.ImportSheet")
	defer span.End()

	if err := p.Authorizer.Authorize(actor, models.ActionUpsertLineItem, "lineItem"); err != nil {
		return nil, err
	}
	if !kind.IsValid() {
		return nil, utils.NewValidationError("kind", "invalid line item kind %q", kind)
	}
	if year < 1900 || year > 9999 {
		return nil, utils.NewValidationError("year", "out of range: %d", year)
	}
	rows, err := reports.ParseImportRows(r)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("rows", len(rows)))

	result := &ImportResult{Saved: make([]*models.LineItem, 0, len(rows)), Failed: make([]ImportFailure, 0)}
	for _, row := range rows {
		item, err := p.Store.Upsert(ctx, row.LineItemInput(kind, year), actor)
		if err != nil {
			result.Failed = append(result.Failed, ImportFailure{Row: row.Row, Error: err.Error()})
			continue
		}
		result.Saved = append(result.Saved, item)
	}
	if len(result.Saved) > 0 {
		p.invalidate(ctx, year)
	}
	p.Logger.WithFields(logrus.Fields{
		"kind":   kind,
		"year":   year,
		"saved":  len(result.Saved),
		"failed": len(result.Failed),
		"actor":  actor.Name,
	}).Info("planning sheet imported")
	return result, nil
}

func (p *Planner) invalidate(ctx context.Context, years ...int) {
	for _, year := range years {
		if year == 0 {
			continue
		}
		if err := p.Cache.InvalidateYear(ctx, year); err != nil {
			config.LogError(p.Logger, "Planner", "invalidate", fmt.Sprint(year), nil, err)
		}
	}
}
