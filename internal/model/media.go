package model

import "time"

// Agency is an advertising agency that may represent several clients.
type Agency struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:256;not null" json:"name"`
	LegalName string    `gorm:"size:256" json:"legal_name,omitempty"`
	TaxID     string    `gorm:"size:32;index" json:"tax_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Client is a billed customer whose media airs in scheduled scenes.
type Client struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:256;not null" json:"name"`
	LegalName string    `gorm:"size:256" json:"legal_name,omitempty"`
	TaxID     string    `gorm:"size:32;index" json:"tax_id,omitempty"`
	AgencyID  *int64    `gorm:"index" json:"agency_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	Agency *Agency `json:"agency,omitempty"`
}

// MediaAsset is a client's media file, linked from schedule and history rows
// for billing reports only.
type MediaAsset struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:256;not null" json:"name"`
	Path      string    `gorm:"size:1024;not null" json:"path"`
	ClientID  int64     `gorm:"index;not null" json:"client_id"`
	CreatedAt time.Time `json:"created_at"`

	Client *Client `gorm:"constraint:OnDelete:CASCADE" json:"client,omitempty"`
}

// TableName keeps the plural unambiguous.
func (MediaAsset) TableName() string {
	return "media_assets"
}
