package models

import "time"

// Flight mirrors a registered flight and its latest agreed status
type Flight struct {
	Key            string    `gorm:"column:flight_key;primaryKey;type:varchar(64)" json:"key"`
	AirlineAddress string    `gorm:"column:airline;type:varchar(40);index" json:"airline"`
	Code           string    `gorm:"column:code;type:text;index" json:"code"`
	Timestamp      int64     `gorm:"column:departure;index" json:"timestamp"`
	StatusCode     uint8     `gorm:"column:status_code;default:0" json:"status_code"`
	Status         string    `gorm:"column:status;type:varchar(30);default:'UNKNOWN'" json:"status"`
	UpdatedHeight  int64     `gorm:"column:updated_height" json:"updated_height"`
	UpdatedAt      time.Time `gorm:"column:updated_at" json:"updated_at"`

	// Relationships
	Policies []Policy       `gorm:"foreignKey:FlightKey;references:Key" json:"policies,omitempty"`
	Reports  []OracleReport `gorm:"foreignKey:FlightKey;references:Key" json:"reports,omitempty"`
}

// Policy is a passenger's insurance on a flight
type Policy struct {
	Passenger  string `gorm:"column:passenger;primaryKey;type:varchar(40)" json:"passenger"`
	FlightKey  string `gorm:"column:flight_key;primaryKey;type:varchar(64)" json:"flight_key"`
	AmountPaid string `gorm:"column:amount_paid;type:varchar(78)" json:"amount_paid"`
	Height     int64  `gorm:"column:height" json:"height"`
}
