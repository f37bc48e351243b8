package models

// Admin is a back-office account allowed to mutate the catalog and orders.
type Admin struct {
	BaseModel
	Username     string `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string `json:"-"`
}
