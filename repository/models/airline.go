package models

import "time"

// Airline is the read-model copy of a registry participant
type Airline struct {
	Address          string    `gorm:"column:address;primaryKey;type:varchar(40)" json:"address"`
	Name             string    `gorm:"column:name;type:text" json:"name"`
	IsRegistered     bool      `gorm:"column:is_registered;default:false" json:"is_registered"`
	IsFunded         bool      `gorm:"column:is_funded;default:false" json:"is_funded"`
	FundedAmount     string    `gorm:"column:funded_amount;type:varchar(78);default:'0'" json:"funded_amount"`
	RegisteredHeight int64     `gorm:"column:registered_height" json:"registered_height,omitempty"`
	UpdatedAt        time.Time `gorm:"column:updated_at" json:"updated_at"`

	// Relationships
	Flights []Flight `gorm:"foreignKey:AirlineAddress;references:Address" json:"flights,omitempty"`
	Votes   []Vote   `gorm:"foreignKey:Candidate;references:Address" json:"votes,omitempty"`
}

// Vote is one airline's vote for a candidate
type Vote struct {
	Candidate string `gorm:"column:candidate;primaryKey;type:varchar(40)" json:"candidate"`
	Voter     string `gorm:"column:voter;primaryKey;type:varchar(40)" json:"voter"`
	Height    int64  `gorm:"column:height" json:"height"`
}
