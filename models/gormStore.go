package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/budget_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore is the durable Repository on mysql or postgres.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

var _ Repository = (*GormStore)(nil)

func notFoundOr(err error, resource string, key string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.NewNotFoundError(resource, key)
	}
	return err
}

func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(utils.NormalizeKey(s)) + "%"
}

func (g *GormStore) FindLineItem(ctx context.Context, id string) (*LineItem, error) {
	var item LineItem
	if err := g.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, notFoundOr(err, "line item", id)
	}
	return &item, nil
}

func (g *GormStore) FindLineItemByKey(ctx context.Context, matchKey string) (*LineItem, error) {
	var item LineItem
	if err := g.db.WithContext(ctx).Where("match_key = ?", matchKey).First(&item).Error; err != nil {
		return nil, notFoundOr(err, "line item", matchKey)
	}
	return &item, nil
}

func (g *GormStore) InsertLineItem(ctx context.Context, item *LineItem) error {
	return g.db.WithContext(ctx).Create(item).Error
}

func (g *GormStore) UpdateLineItem(ctx context.Context, item *LineItem, prevVersion int) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored LineItem
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", item.ID).First(&stored).Error; err != nil {
			return notFoundOr(err, "line item", item.ID)
		}
		if stored.Version != prevVersion {
			return &utils.ConflictError{
				Key:             stored.MatchKey,
				ExpectedVersion: prevVersion,
				ActualVersion:   stored.Version,
				LastModifiedBy:  stored.LastModifiedBy,
			}
		}
		return tx.Model(&LineItem{}).Where("id = ? AND version = ?", item.ID, prevVersion).
			Select("*").Omit("id", "created_by", "created_at").
			Updates(item).Error
	})
}

func (g *GormStore) ListLineItems(ctx context.Context, filter LineItemFilter) ([]*LineItem, error) {
	var results []*LineItem
	dbCtx := g.db.WithContext(ctx)
	if filter.Kind != nil {
		dbCtx = dbCtx.Where("kind = ?", *filter.Kind)
	}
	if filter.Year != nil {
		dbCtx = dbCtx.Where("year = ?", *filter.Year)
	}
	if filter.Status != nil {
		dbCtx = dbCtx.Where("status = ?", *filter.Status)
	}
	if filter.CreatedBy != nil {
		dbCtx = dbCtx.Where("created_by = ?", *filter.CreatedBy)
	}
	if filter.CustomerKey != nil {
		dbCtx = dbCtx.Where("LOWER(TRIM(customer_key)) = ?", utils.NormalizeKey(*filter.CustomerKey))
	}
	if filter.ItemKey != nil {
		dbCtx = dbCtx.Where("LOWER(TRIM(item_key)) = ?", utils.NormalizeKey(*filter.ItemKey))
	}
	if filter.CustomerSearch != nil {
		dbCtx = dbCtx.Where("LOWER(customer_key) LIKE ?", likePattern(*filter.CustomerSearch))
	}
	if err := dbCtx.Order("customer_key, item_key, kind, year").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (g *GormStore) SaveSubmission(ctx context.Context, snapshot *SubmissionSnapshot, ids []string, at time.Time) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked []LineItem
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", ids).Find(&locked).Error; err != nil {
			return err
		}
		if len(locked) != len(ids) {
			found := make(map[string]bool, len(locked))
			for _, item := range locked {
				found[item.ID] = true
			}
			for _, id := range ids {
				if !found[id] {
					return utils.NewNotFoundError("line item", id)
				}
			}
		}
		if err := tx.Create(snapshot).Error; err != nil {
			return err
		}
		return tx.Model(&LineItem{}).Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":        LineItemStatusSubmitted,
				"last_modified": at,
			}).Error
	})
}

func (g *GormStore) FindSnapshot(ctx context.Context, workflowID string) (*SubmissionSnapshot, error) {
	var snapshot SubmissionSnapshot
	if err := g.db.WithContext(ctx).Where("workflow_id = ?", workflowID).First(&snapshot).Error; err != nil {
		return nil, notFoundOr(err, "snapshot", workflowID)
	}
	return &snapshot, nil
}

func (g *GormStore) SetGitQuantity(ctx context.Context, customer string, item string, qty int, at time.Time) (int, error) {
	result := g.db.WithContext(ctx).Model(&LineItem{}).
		Where("LOWER(TRIM(customer_key)) = ? AND LOWER(TRIM(item_key)) = ?", utils.NormalizeKey(customer), utils.NormalizeKey(item)).
		Updates(map[string]interface{}{
			"git_quantity":  qty,
			"last_modified": at,
			"version":       gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

func (g *GormStore) InsertRequest(ctx context.Context, r *Request) error {
	return g.db.WithContext(ctx).Create(r).Error
}

func preloadComments(db *gorm.DB) *gorm.DB {
	return db.Order("timestamp ASC, id ASC")
}

func (g *GormStore) FindRequest(ctx context.Context, id string) (*Request, error) {
	var r Request
	if err := g.db.WithContext(ctx).Preload("Comments", preloadComments).
		Where("id = ?", id).First(&r).Error; err != nil {
		return nil, notFoundOr(err, "request", id)
	}
	return &r, nil
}

func (g *GormStore) UpdateRequestStatus(ctx context.Context, r *Request, prevVersion int, entry *AuditEntry) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stored Request
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", r.ID).First(&stored).Error; err != nil {
			return notFoundOr(err, "request", r.ID)
		}
		if stored.Version != prevVersion {
			return &utils.ConflictError{Key: r.ID, ExpectedVersion: prevVersion, ActualVersion: stored.Version}
		}
		if err := tx.Model(&Request{}).Where("id = ?", r.ID).
			Updates(map[string]interface{}{
				"status":        r.Status,
				"last_modified": r.LastModified,
				"version":       r.Version,
			}).Error; err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		return tx.Create(entry).Error
	})
}

func (g *GormStore) AppendAuditEntry(ctx context.Context, entry *AuditEntry) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Request{}).Where("id = ?", entry.RequestID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return utils.NewNotFoundError("request", entry.RequestID)
		}
		return tx.Create(entry).Error
	})
}

func (g *GormStore) ListRequests(ctx context.Context, filter RequestFilter) ([]*Request, error) {
	var results []*Request
	dbCtx := g.db.WithContext(ctx).Preload("Comments", preloadComments)
	if filter.Kind != nil {
		dbCtx = dbCtx.Where("kind = ?", *filter.Kind)
	}
	if filter.Status != nil {
		dbCtx = dbCtx.Where("status = ?", *filter.Status)
	}
	if filter.CreatedBy != nil {
		dbCtx = dbCtx.Where("created_by = ?", *filter.CreatedBy)
	}
	if filter.WorkflowId != nil {
		dbCtx = dbCtx.Where("workflow_id = ?", *filter.WorkflowId)
	}
	if err := dbCtx.Order("created_at ASC, id ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (g *GormStore) InsertNotification(ctx context.Context, n *Notification) error {
	return g.db.WithContext(ctx).Create(n).Error
}

func (g *GormStore) ListNotifications(ctx context.Context, filter NotificationFilter) ([]*Notification, error) {
	var results []*Notification
	dbCtx := g.db.WithContext(ctx)
	if len(filter.Recipients) > 0 {
		dbCtx = dbCtx.Where("to_user_or_role IN ?", filter.Recipients)
	}
	if filter.UnreadOnly {
		dbCtx = dbCtx.Where(map[string]interface{}{"read": false})
	}
	if err := dbCtx.Order("created_at DESC, id ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (g *GormStore) MarkNotificationRead(ctx context.Context, id string) error {
	return g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n Notification
		if err := tx.Where("id = ?", id).First(&n).Error; err != nil {
			return notFoundOr(err, "notification", id)
		}
		if n.Read {
			return nil
		}
		return tx.Model(&n).Update("read", true).Error
	})
}

func (g *GormStore) InsertShipment(ctx context.Context, s *Shipment) error {
	s.refreshMatchKeys()
	return g.db.WithContext(ctx).Create(s).Error
}

func (g *GormStore) ListShipments(ctx context.Context, filter ShipmentFilter) ([]*Shipment, error) {
	var results []*Shipment
	dbCtx := g.db.WithContext(ctx)
	if filter.Customer != nil {
		dbCtx = dbCtx.Where("customer_match = ?", utils.NormalizeKey(*filter.Customer))
	}
	if filter.Item != nil {
		dbCtx = dbCtx.Where("item_match = ?", utils.NormalizeKey(*filter.Item))
	}
	if filter.Search != nil {
		pattern := likePattern(*filter.Search)
		dbCtx = dbCtx.Where("customer_match LIKE ? OR item_match LIKE ?", pattern, pattern)
	}
	if err := dbCtx.Order("created_at ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
