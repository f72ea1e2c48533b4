package catalog

import "time"

// Section is a curated collection of affiliate items.
type Section struct {
	ID          uint64    `gorm:"primaryKey"`
	Title       string    `gorm:"type:text;not null"`
	Description *string   `gorm:"type:text"`
	Order       int64     `gorm:"column:sort_order;not null;default:0"`
	CreatedAt   time.Time `gorm:"not null"`
}

type Item struct {
	ID            uint64    `gorm:"primaryKey"`
	SectionID     uint64    `gorm:"index;not null"`
	AffiliateLink string    `gorm:"type:text;not null"`
	Price         *string   `gorm:"type:text"`
	Platform      string    `gorm:"type:text;not null;default:'other'"` // amazon/flipkart/nykaa/meesho/other
	ItemTitle     *string   `gorm:"type:text"`
	ImageURL      *string   `gorm:"type:text"`
	Order         int64     `gorm:"column:sort_order;not null;default:0"`
	CreatedAt     time.Time `gorm:"not null"`
}
