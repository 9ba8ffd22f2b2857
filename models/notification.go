package models

import "time"

type Notification struct {
	ID              string    `gorm:"primary_key;size:36" json:"id"`
	Title           string    `gorm:"size:255;not null" json:"title"`
	Message         string    `gorm:"type:text" json:"message"`
	FromUser        string    `gorm:"size:100" json:"from_user"`
	ToUserOrRole    string    `gorm:"size:100;index;not null" json:"to_user_or_role"`
	RelatedRecordID string    `gorm:"size:100;index" json:"related_record_id"`
	Read            bool      `gorm:"index;default:false" json:"read"`
	CreatedAt       time.Time `json:"created_at"`
}

type NotificationFilter struct {
	// Recipients matches ToUserOrRole exactly against any of the values.
	Recipients []string
	UnreadOnly bool
}

func (f NotificationFilter) matches(n *Notification) bool {
	if f.UnreadOnly && n.Read {
		return false
	}
	if len(f.Recipients) == 0 {
		return true
	}
	for _, r := range f.Recipients {
		if n.ToUserOrRole == r {
			return true
		}
	}
	return false
}
