package model

import (
	"time"
)

// TradingPair maps a tradable symbol to its base asset and quote currency.
// Orders for unknown or inactive symbols are refused at placement.
type TradingPair struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Symbol     string    `gorm:"size:30;uniqueIndex" json:"symbol"`
	BaseAsset  string    `gorm:"column:base_asset;size:20;not null" json:"base_asset"`
	QuoteAsset string    `gorm:"column:quote_asset;size:20;not null" json:"quote_asset"`
	Active     bool      `gorm:"not null;default:true" json:"active"`
	// CoinGeckoID is the coin id on the CoinGecko API ("bitcoin"),
	// empty when the pair is not polled there.
	CoinGeckoID string `gorm:"column:coingecko_id;size:60" json:"coingecko_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (TradingPair) TableName() string {
	return "trading_pairs"
}
