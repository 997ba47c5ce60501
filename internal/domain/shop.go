package domain

import "time"

// Shop is a reviewed merchant. Shop reads are served through the cache
// engine; the relational store is authoritative.
type Shop struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	TypeID    int64     `json:"type_id"`
	Images    string    `json:"images,omitempty"`
	Area      string    `json:"area,omitempty"`
	Address   string    `json:"address"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	AvgPrice  int64     `json:"avg_price"`
	Sold      int       `json:"sold"`
	Comments  int       `json:"comments"`
	Score     int       `json:"score"`
	OpenHours string    `json:"open_hours,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
