package orchestrator

import (
	"context"

	cmtlog "github.com/cometbft/cometbft/libs/log"

	"github.com/ahmadzakiakmal/flightsurety/ledger"
	"github.com/ahmadzakiakmal/flightsurety/surety"
)

// observe logs oracle reports and final flight statuses as they are committed.
func observe(ctx context.Context, events <-chan ledger.Notification, logger cmtlog.Logger, metrics *orchestratorMetrics) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-events:
			if !ok {
				return nil
			}
			switch n.Event.Type {
			case surety.EventOracleReported:
				r, err := surety.ParseOracleReported(n.Event)
				if err != nil {
					logger.Error("Malformed oracle report", "tx", n.TxHash, "err", err)
					continue
				}
				metrics.reportsObserved.Inc()
				logger.Debug("OracleReport",
					"oracle", r.Oracle,
					"airline", r.Airline,
					"flight", r.Flight,
					"timestamp", r.Timestamp,
					"status", r.StatusCode,
				)
			case surety.EventFlightStatusFinalized:
				f, err := surety.ParseFlightStatusFinalized(n.Event)
				if err != nil {
					logger.Error("Malformed flight status", "tx", n.TxHash, "err", err)
					continue
				}
				metrics.flightsFinalized.WithLabelValues(f.StatusCode.String()).Inc()
				logger.Info("FlightStatusInfo",
					"airline", f.Airline,
					"flight", f.Flight,
					"timestamp", f.Timestamp,
					"status", f.StatusCode,
					"height", n.Height,
				)
			}
		}
	}
}
