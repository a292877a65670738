package models

// Oracle records the labels assigned to an oracle
type Oracle struct {
	Address string `gorm:"column:address;primaryKey;type:varchar(40)" json:"address"`
	Indexes string `gorm:"column:indexes;type:varchar(20)" json:"indexes"`
	Height  int64  `gorm:"column:height" json:"height"`
}

// OracleReport is one accepted oracle response
type OracleReport struct {
	ID         uint   `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	TxHash     string `gorm:"column:tx_hash;type:varchar(64);uniqueIndex:idx_report_tx_oracle" json:"tx_hash"`
	Oracle     string `gorm:"column:oracle;type:varchar(40);uniqueIndex:idx_report_tx_oracle" json:"oracle"`
	RequestKey string `gorm:"column:request_key;type:varchar(64);index" json:"request_key"`
	FlightKey  string `gorm:"column:flight_key;type:varchar(64);index" json:"flight_key"`
	StatusCode uint8  `gorm:"column:status_code" json:"status_code"`
	Height     int64  `gorm:"column:height" json:"height"`
}
