package specification

import "gorm.io/gorm"

// ByCreator filters documents imported by one user. An empty id matches all.
type ByCreator struct {
	UserID string
}

func (s ByCreator) Apply(db *gorm.DB) *gorm.DB {
	if s.UserID == "" {
		return db
	}
	return db.Where("created_by = ?", s.UserID)
}
