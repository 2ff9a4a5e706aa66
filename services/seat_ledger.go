package services

import (
	"context"
	"errors"
	"fmt"

	"registrar/metrics"

	"github.com/sirupsen/logrus"
)

// ErrSeatLedgerFull is returned when a release would push seats_remaining above total_seats.
// It means a registration released a seat it never held and aborts the surrounding transition.
var ErrSeatLedgerFull = errors.New("seat ledger already at total seats")

// SeatLedger is the only component allowed to mutate a competition's seat counter
type SeatLedger struct {
	store SeatStore
	log   logrus.FieldLogger
}

func NewSeatLedger(store SeatStore, logger logrus.FieldLogger) *SeatLedger {
	return &SeatLedger{
		store: store,
		log:   logger.WithField("component", "seat_ledger"),
	}
}

// WithTx returns a ledger whose operations join the given transaction
func (l *SeatLedger) WithTx(tx SeatStore) *SeatLedger {
	return &SeatLedger{store: tx, log: l.log}
}

// Reserve takes one seat or fails with ErrNoSeatsAvailable
func (l *SeatLedger) Reserve(ctx context.Context, competitionID string) error {
	ok, err := l.store.ReserveSeat(ctx, competitionID)
	if err != nil {
		metrics.SeatOperations.WithLabelValues("reserve", "error").Inc()
		return fmt.Errorf("reserve seat: %w", err)
	}
	if !ok {
		metrics.SeatOperations.WithLabelValues("reserve", "no_seats").Inc()
		l.log.WithField("competition_id", competitionID).Info("No seat left to reserve")
		return ErrNoSeatsAvailable
	}

	metrics.SeatOperations.WithLabelValues("reserve", "ok").Inc()
	l.log.WithField("competition_id", competitionID).Debug("Seat reserved")
	return nil
}

// Release gives one seat back. Callers release at most once per successful Reserve.
func (l *SeatLedger) Release(ctx context.Context, competitionID string) error {
	ok, err := l.store.ReleaseSeat(ctx, competitionID)
	if err != nil {
		metrics.SeatOperations.WithLabelValues("release", "error").Inc()
		return fmt.Errorf("release seat: %w", err)
	}
	if !ok {
		metrics.SeatOperations.WithLabelValues("release", "full").Inc()
		l.log.WithField("competition_id", competitionID).Error("Seat release refused, counter already at total")
		return ErrSeatLedgerFull
	}

	metrics.SeatOperations.WithLabelValues("release", "ok").Inc()
	l.log.WithField("competition_id", competitionID).Debug("Seat released")
	return nil
}
