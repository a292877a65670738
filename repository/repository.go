package repository

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ahmadzakiakmal/flightsurety/ledger"
	"github.com/ahmadzakiakmal/flightsurety/repository/models"
	"github.com/ahmadzakiakmal/flightsurety/surety"
)

// PostgreSQL error codes as constants
const (
	// Class 23 - Integrity Constraint Violation
	PgErrForeignKeyViolation = "23503" // foreign_key_violation
	PgErrUniqueViolation     = "23505" // unique_violation
	PgErrCheckViolation      = "23514" // check_violation
	PgErrNotNullViolation    = "23502" // not_null_violation

	// Class 08 - Connection Exception
	PgErrConnectionException = "08000" // connection_exception
	PgErrConnectionFailure   = "08006" // connection_failure

	// Class 57 - Operator Intervention
	PgErrAdminShutdown = "57P01" // admin_shutdown
)

// Repository error codes that are not PostgreSQL codes
const (
	ErrCodeNotFound    = "ENTITY_NOT_FOUND"
	ErrCodeDatabase    = "DATABASE_ERROR"
	ErrCodeCommit      = "COMMIT_FAILED"
	ErrCodeBadEvent    = "INVALID_EVENT"
	ErrCodeUnsupported = "UNSUPPORTED_DRIVER"
)

const (
	connectAttempts = 10
	connectBackoff  = 2 * time.Second
)

// RepositoryError represent an error in the repository layer
type RepositoryError struct {
	Code    string
	Message string
	Detail  string
}

func (e *RepositoryError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Detail)
}

// Repository is the queryable projection of ledger events.
type Repository struct {
	db     *gorm.DB
	logger cmtlog.Logger
}

func NewRepository(logger cmtlog.Logger) *Repository {
	return &Repository{logger: logger}
}

func dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case "postgres":
		return postgres.Open(dsn), nil
	case "sqlite":
		return sqlite.Open(dsn), nil
	}
	return nil, &RepositoryError{Code: ErrCodeUnsupported, Message: "unsupported database driver", Detail: driver}
}

// ConnectDB opens the database, retrying while it comes up.
func (r *Repository) ConnectDB(driver, dsn string) error {
	d, err := dialector(driver, dsn)
	if err != nil {
		return err
	}
	config := &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	}
	for i := range connectAttempts {
		r.logger.Info("Connecting to database", "driver", driver, "attempt", i+1)
		db, err := gorm.Open(d, config)
		if err == nil {
			if driver == "sqlite" {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				// an in-memory database lives per connection
				sqlDB.SetMaxOpenConns(1)
			}
			r.db = db
			r.logger.Info("Connected to database", "driver", driver)
			return nil
		}
		r.logger.Error("Connection attempt failed", "attempt", i+1, "err", err)
		if i < connectAttempts-1 {
			time.Sleep(connectBackoff)
		}
	}
	return &RepositoryError{Code: PgErrConnectionFailure, Message: "could not connect to database", Detail: dsn}
}

func (r *Repository) Migrate() error {
	err := r.db.AutoMigrate(
		&models.Airline{},
		&models.Vote{},
		&models.Flight{},
		&models.Policy{},
		&models.Oracle{},
		&models.OracleReport{},
	)
	if err != nil {
		return toRepositoryError(err, ErrCodeDatabase, "migration failed")
	}
	r.logger.Info("Database migration completed successfully")
	return nil
}

// Close releases the underlying connection pool.
func (r *Repository) Close() error {
	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRepositoryError(err error, code, message string) *RepositoryError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &RepositoryError{
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Detail:  pgErr.Detail,
		}
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &RepositoryError{Code: ErrCodeNotFound, Message: message, Detail: err.Error()}
	}
	return &RepositoryError{Code: code, Message: message, Detail: err.Error()}
}

// ProjectedEvents are the event types Apply understands.
var ProjectedEvents = []string{
	surety.EventAirlineRegistered,
	surety.EventAirlineVoted,
	surety.EventAirlineFunded,
	surety.EventFlightRegistered,
	surety.EventInsurancePurchased,
	surety.EventOracleRegistered,
	surety.EventOracleReported,
	surety.EventFlightStatusFinalized,
}

// Apply folds one ledger notification into the projection. Applying the same
// notification twice leaves the projection unchanged.
func (r *Repository) Apply(n ledger.Notification) *RepositoryError {
	dbTx := r.db.Begin()
	if dbTx.Error != nil {
		return toRepositoryError(dbTx.Error, ErrCodeDatabase, "failed to begin transaction")
	}
	if rerr := apply(dbTx, n); rerr != nil {
		dbTx.Rollback()
		return rerr
	}
	if err := dbTx.Commit().Error; err != nil {
		return toRepositoryError(err, ErrCodeCommit, "failed to commit projection")
	}
	return nil
}

func apply(tx *gorm.DB, n ledger.Notification) *RepositoryError {
	ev := n.Event
	var err error
	switch ev.Type {
	case surety.EventAirlineRegistered:
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "is_registered", "registered_height", "updated_at"}),
		}).Create(&models.Airline{
			Address:          ev.Attr("airline"),
			Name:             ev.Attr("name"),
			IsRegistered:     true,
			FundedAmount:     "0",
			RegisteredHeight: n.Height,
		}).Error

	case surety.EventAirlineVoted:
		err = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.Vote{
			Candidate: ev.Attr("candidate"),
			Voter:     ev.Attr("voter"),
			Height:    n.Height,
		}).Error

	case surety.EventAirlineFunded:
		funded, perr := strconv.ParseBool(ev.Attr("funded"))
		if perr != nil {
			return badEvent(ev, perr)
		}
		// the genesis airline is only seen once it funds
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}},
			DoUpdates: clause.AssignmentColumns([]string{"is_registered", "is_funded", "funded_amount", "updated_at"}),
		}).Create(&models.Airline{
			Address:      ev.Attr("airline"),
			IsRegistered: true,
			IsFunded:     funded,
			FundedAmount: ev.Attr("total"),
		}).Error

	case surety.EventFlightRegistered:
		ts, perr := strconv.ParseInt(ev.Attr("timestamp"), 10, 64)
		if perr != nil {
			return badEvent(ev, perr)
		}
		err = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.Flight{
			Key:            ev.Attr("flight_key"),
			AirlineAddress: ev.Attr("airline"),
			Code:           ev.Attr("flight"),
			Timestamp:      ts,
			StatusCode:     uint8(surety.StatusUnknown),
			Status:         surety.StatusUnknown.String(),
			UpdatedHeight:  n.Height,
		}).Error

	case surety.EventInsurancePurchased:
		err = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.Policy{
			Passenger:  ev.Attr("passenger"),
			FlightKey:  ev.Attr("flight_key"),
			AmountPaid: ev.Attr("amount"),
			Height:     n.Height,
		}).Error

	case surety.EventOracleRegistered:
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}},
			DoUpdates: clause.AssignmentColumns([]string{"indexes"}),
		}).Create(&models.Oracle{
			Address: ev.Attr("oracle"),
			Indexes: ev.Attr("indexes"),
			Height:  n.Height,
		}).Error

	case surety.EventOracleReported:
		report, perr := surety.ParseOracleReported(ev)
		if perr != nil {
			return badEvent(ev, perr)
		}
		err = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.OracleReport{
			TxHash:     n.TxHash,
			Oracle:     string(report.Oracle),
			RequestKey: report.RequestKey,
			FlightKey:  surety.FlightKey(report.Airline, report.Flight, report.Timestamp),
			StatusCode: uint8(report.StatusCode),
			Height:     n.Height,
		}).Error

	case surety.EventFlightStatusFinalized:
		info, perr := surety.ParseFlightStatusFinalized(ev)
		if perr != nil {
			return badEvent(ev, perr)
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "flight_key"}},
			DoUpdates: clause.AssignmentColumns([]string{"status_code", "status", "updated_height", "updated_at"}),
		}).Create(&models.Flight{
			Key:            surety.FlightKey(info.Airline, info.Flight, info.Timestamp),
			AirlineAddress: string(info.Airline),
			Code:           info.Flight,
			Timestamp:      info.Timestamp,
			StatusCode:     uint8(info.StatusCode),
			Status:         info.StatusCode.String(),
			UpdatedHeight:  n.Height,
		}).Error

	default:
		return nil
	}
	if err != nil {
		return toRepositoryError(err, ErrCodeDatabase, "failed to project "+ev.Type)
	}
	return nil
}

func badEvent(ev surety.Event, err error) *RepositoryError {
	return &RepositoryError{Code: ErrCodeBadEvent, Message: "malformed " + ev.Type + " event", Detail: err.Error()}
}

// ListAirlines returns every known airline ordered by registration height.
func (r *Repository) ListAirlines(fundedOnly bool) ([]models.Airline, *RepositoryError) {
	var airlines []models.Airline
	q := r.db.Order("registered_height, address")
	if fundedOnly {
		q = q.Where("is_funded = ?", true)
	}
	if err := q.Find(&airlines).Error; err != nil {
		return nil, toRepositoryError(err, ErrCodeDatabase, "failed to list airlines")
	}
	return airlines, nil
}

// GetAirline returns an airline with its flights and the votes it received.
func (r *Repository) GetAirline(address string) (*models.Airline, *RepositoryError) {
	var airline models.Airline
	err := r.db.Preload("Flights").Preload("Votes").
		Where("address = ?", string(surety.NormalizeAddress(address))).
		First(&airline).Error
	if err != nil {
		return nil, toRepositoryError(err, ErrCodeDatabase, "airline not found")
	}
	return &airline, nil
}

// ListFlights returns flights ordered by departure, optionally for one airline.
func (r *Repository) ListFlights(airline string) ([]models.Flight, *RepositoryError) {
	var flights []models.Flight
	q := r.db.Order("departure, flight_key")
	if airline != "" {
		q = q.Where("airline = ?", string(surety.NormalizeAddress(airline)))
	}
	if err := q.Find(&flights).Error; err != nil {
		return nil, toRepositoryError(err, ErrCodeDatabase, "failed to list flights")
	}
	return flights, nil
}

// GetFlight returns a flight with its policies and oracle reports.
func (r *Repository) GetFlight(key string) (*models.Flight, *RepositoryError) {
	var flight models.Flight
	err := r.db.
		Preload("Policies").
		Preload("Reports", func(db *gorm.DB) *gorm.DB { return db.Order("height, id") }).
		Where("flight_key = ?", key).
		First(&flight).Error
	if err != nil {
		return nil, toRepositoryError(err, ErrCodeDatabase, "flight not found")
	}
	return &flight, nil
}

func (r *Repository) GetOracle(address string) (*models.Oracle, *RepositoryError) {
	var oracle models.Oracle
	err := r.db.Where("address = ?", string(surety.NormalizeAddress(address))).First(&oracle).Error
	if err != nil {
		return nil, toRepositoryError(err, ErrCodeDatabase, "oracle not found")
	}
	return &oracle, nil
}
