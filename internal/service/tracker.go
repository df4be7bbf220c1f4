package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/oakmart/storefront-backend/internal/entity"
	"github.com/oakmart/storefront-backend/internal/repository"
)

// Heartbeat responses understood by the client poller.
const (
	// HeartbeatNone means no cart record exists for the session and none
	// was created (the cart is empty).
	HeartbeatNone = "none"
)

// HeartbeatRequest carries a periodic keep-alive from an open tab. The
// snapshot fields are optional: when present they let a heartbeat create
// the record for a session that has items but no record yet.
type HeartbeatRequest struct {
	SessionID string            `json:"sessionId"`
	Items     []entity.CartLine `json:"items,omitempty"`
	Total     float64           `json:"total,omitempty"`
}

// ActivityUpdate is the full cart snapshot sent on cart mutations and on
// the best-effort unload beacon.
type ActivityUpdate struct {
	SessionID      string            `json:"sessionId"`
	Items          []entity.CartLine `json:"items"`
	Total          float64           `json:"total"`
	CustomerName   string            `json:"customerName,omitempty"`
	CustomerEmail  string            `json:"customerEmail,omitempty"`
	CustomerNumber string            `json:"customerNumber,omitempty"`
	UserID         string            `json:"userId,omitempty"`
	IsFinalUpdate  bool              `json:"isFinalUpdate,omitempty"`
}

// TrackerService maintains the one abandoned-cart record per session, the
// single source of truth for "is this cart still being shopped".
type TrackerService struct {
	carts repository.CartRepository
	now   func() time.Time
}

func NewTrackerService(carts repository.CartRepository) *TrackerService {
	return &TrackerService{carts: carts, now: time.Now}
}

// Heartbeat refreshes the session's activity timestamp. The returned status
// tells the client whether to keep polling: once a cart is abandoned the
// client stops, so a stale tab cannot silently resurrect it.
func (s *TrackerService) Heartbeat(ctx context.Context, req HeartbeatRequest) (string, error) {
	if req.SessionID == "" {
		return "", errors.New("sessionId is required")
	}
	now := s.now()

	cart, err := s.carts.FindBySessionID(ctx, req.SessionID)
	if errors.Is(err, repository.ErrNotFound) {
		if len(req.Items) == 0 {
			// Empty carts produce no record.
			return HeartbeatNone, nil
		}
		cart = &entity.AbandonedCart{
			ID:             uuid.New().String(),
			SessionID:      req.SessionID,
			Items:          req.Items,
			CartTotal:      req.Total,
			Status:         entity.CartActive,
			LastActivityAt: now,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.carts.Upsert(ctx, cart); err != nil {
			return "", fmt.Errorf("failed to create cart record: %w", err)
		}
		return entity.CartActive, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load cart record: %w", err)
	}

	switch cart.Status {
	case entity.CartRecovered:
		return entity.CartRecovered, nil
	case entity.CartAbandoned:
		return entity.CartAbandoned, nil
	}

	if err := s.carts.Touch(ctx, req.SessionID, now); err != nil {
		return "", fmt.Errorf("failed to refresh cart activity: %w", err)
	}
	return entity.CartActive, nil
}

// RecordActivity upserts the session's cart snapshot. Contact fields are
// captured opportunistically: an empty field never clears a previously
// known value. A recovered record is terminal and left untouched.
func (s *TrackerService) RecordActivity(ctx context.Context, upd ActivityUpdate) (*entity.AbandonedCart, error) {
	if upd.SessionID == "" {
		return nil, errors.New("sessionId is required")
	}
	now := s.now()

	cart, err := s.carts.FindBySessionID(ctx, upd.SessionID)
	if errors.Is(err, repository.ErrNotFound) {
		if len(upd.Items) == 0 {
			return nil, nil
		}
		cart = &entity.AbandonedCart{
			ID:        uuid.New().String(),
			SessionID: upd.SessionID,
			Status:    entity.CartActive,
			CreatedAt: now,
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to load cart record: %w", err)
	}

	if cart.Status == entity.CartRecovered {
		return cart, nil
	}

	cart.Items = upd.Items
	cart.CartTotal = upd.Total
	cart.LastActivityAt = now
	cart.UpdatedAt = now
	// A genuine cart mutation is fresh activity.
	cart.Status = entity.CartActive
	if upd.CustomerName != "" {
		cart.CustomerName = upd.CustomerName
	}
	if upd.CustomerEmail != "" {
		cart.CustomerEmail = upd.CustomerEmail
	}
	if upd.CustomerNumber != "" {
		cart.CustomerNumber = upd.CustomerNumber
	}
	if upd.UserID != "" {
		cart.UserID = upd.UserID
	}
	if upd.IsFinalUpdate {
		cart.Notes = appendNote(cart.Notes, "final update received "+now.UTC().Format(time.RFC3339))
	}

	if err := s.carts.Upsert(ctx, cart); err != nil {
		return nil, fmt.Errorf("failed to upsert cart record: %w", err)
	}
	slog.Debug("Cart activity recorded",
		"session_id", upd.SessionID, "items", len(upd.Items), "final", upd.IsFinalUpdate)
	return cart, nil
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}
