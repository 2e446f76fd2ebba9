package premium

import (
	"context"
	"log/slog"
	"strings"

	"github.com/victornm/discernment/internal/domain"
	"github.com/victornm/discernment/internal/errors"
	"github.com/victornm/discernment/internal/event"
	"github.com/victornm/discernment/internal/store"
	"github.com/victornm/discernment/internal/telemetry"
)

// Outcome of a payment confirmation.
type Outcome string

const (
	// OutcomeRecorded is a new payment that did not succeed (yet).
	OutcomeRecorded Outcome = "recorded"
	// OutcomeActivated is the first succeeded confirmation of a payment; premium is on.
	OutcomeActivated Outcome = "activated"
	// OutcomeDuplicate is a replay; nothing changed.
	OutcomeDuplicate Outcome = "duplicate"
)

type Confirmation struct {
	PaymentID string `json:"paymentId"`
	UserRef   string `json:"userRef"`
	Status    string `json:"status"`
}

type Config struct {
	Store    *store.Store
	EventBus *event.Bus
}

type Service struct {
	store *store.Store
	eb    *event.Bus
}

func NewService(c Config) *Service {
	return &Service{
		store: c.Store,
		eb:    c.EventBus,
	}
}

// ConfirmPayment records a payment event from the payment provider. The first
// succeeded confirmation of a payment id turns premium on; replays are logged
// and reported as OutcomeDuplicate without side effects.
func (s *Service) ConfirmPayment(ctx context.Context, c Confirmation) (Outcome, error) {
	c.PaymentID = strings.TrimSpace(c.PaymentID)
	c.UserRef = strings.TrimSpace(c.UserRef)
	c.Status = strings.ToLower(strings.TrimSpace(c.Status))

	if c.PaymentID == "" || c.UserRef == "" {
		return "", errors.New(errors.CodeInvalidArgument, errors.WithMessagef("paymentId and userRef are required"))
	}

	var outcome Outcome
	err := s.store.WithTx(ctx, func(tx *store.Tx) (err error) {
		outcome, err = s.confirm(ctx, tx, &c)
		return err
	})
	if err != nil {
		return "", err
	}

	telemetry.Payments.WithLabelValues(string(outcome)).Inc()

	switch outcome {
	case OutcomeActivated:
		slog.InfoContext(ctx, "premium: activated", "user", c.UserRef, "payment", c.PaymentID)
		s.eb.Publish(ctx, domain.EventPremiumActivated{UserRef: c.UserRef, PaymentID: c.PaymentID})
	case OutcomeDuplicate:
		slog.InfoContext(ctx, "premium: payment replay ignored",
			"user", c.UserRef,
			"payment", c.PaymentID,
			"error", errors.DuplicatePayment(c.PaymentID),
		)
	}

	return outcome, nil
}

// confirm rewrites c.UserRef to the payment's owner when the id is already known.
func (s *Service) confirm(ctx context.Context, tx *store.Tx, c *Confirmation) (Outcome, error) {
	succeeded := c.Status == domain.PaymentSucceeded

	inserted, err := tx.InsertPayment(ctx, domain.Payment{
		PaymentID: c.PaymentID,
		UserRef:   c.UserRef,
		Status:    c.Status,
	})
	if err != nil {
		return "", err
	}

	if !inserted {
		prev, err := tx.Payment(ctx, c.PaymentID)
		if err != nil {
			return "", err
		}
		if prev.Status == domain.PaymentSucceeded || !succeeded {
			return OutcomeDuplicate, nil
		}

		// A pending payment that succeeded later.
		if err := tx.UpdatePaymentStatus(ctx, c.PaymentID, c.Status); err != nil {
			return "", err
		}
		c.UserRef = prev.UserRef
	}

	if !succeeded {
		return OutcomeRecorded, tx.EnsureUser(ctx, c.UserRef)
	}

	if err := tx.SetPremium(ctx, c.UserRef); err != nil {
		return "", err
	}
	return OutcomeActivated, nil
}

// IsPremium is false for unknown users.
func (s *Service) IsPremium(ctx context.Context, userRef string) (bool, error) {
	return s.store.IsPremium(ctx, userRef)
}
