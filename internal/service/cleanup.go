package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oakmart/storefront-backend/internal/entity"
	"github.com/oakmart/storefront-backend/internal/messaging"
	"github.com/oakmart/storefront-backend/internal/repository"
)

// TTL bounds for the cleanup sweep. Caller input is clamped into this range
// so a misconfigured trigger cannot instantly abandon everything or never
// abandon anything.
const (
	MinAbandonTTLMinutes = 5
	MaxAbandonTTLMinutes = 1440
)

// DefaultCleanupBatchSize bounds how many stale records one sweep touches.
const DefaultCleanupBatchSize = 100

// CleanupResult summarizes one sweep. Per-record failures are collected
// here instead of aborting the batch.
type CleanupResult struct {
	Updated      int       `json:"updated"`
	Deleted      int       `json:"deleted"`
	TotalChecked int       `json:"totalChecked"`
	Cutoff       time.Time `json:"cutoff"`
	Errors       []string  `json:"errors,omitempty"`
}

// CleanupService reclassifies stale carts server-side, covering crashed
// tabs and network loss where the client never reports abandonment. It is
// idempotent and safe to run repeatedly or concurrently.
type CleanupService struct {
	carts     repository.CartRepository
	publisher messaging.Publisher
	batchSize int
	now       func() time.Time
}

func NewCleanupService(carts repository.CartRepository, publisher messaging.Publisher) *CleanupService {
	return &CleanupService{
		carts:     carts,
		publisher: publisher,
		batchSize: DefaultCleanupBatchSize,
		now:       time.Now,
	}
}

// ClampTTLMinutes bounds a caller-supplied TTL into the sane range.
func ClampTTLMinutes(ttl int) int {
	if ttl < MinAbandonTTLMinutes {
		return MinAbandonTTLMinutes
	}
	if ttl > MaxAbandonTTLMinutes {
		return MaxAbandonTTLMinutes
	}
	return ttl
}

// Run sweeps up to the batch size of stale non-recovered carts: non-empty
// ones are marked abandoned, empty ones are deleted.
func (s *CleanupService) Run(ctx context.Context, ttlMinutes int) CleanupResult {
	ttl := ClampTTLMinutes(ttlMinutes)
	now := s.now()
	cutoff := now.Add(-time.Duration(ttl) * time.Minute)
	result := CleanupResult{Cutoff: cutoff}

	stale, err := s.carts.FindStale(ctx, cutoff, s.batchSize)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to query stale carts: %v", err))
		return result
	}
	result.TotalChecked = len(stale)

	for _, cart := range stale {
		if !cart.HasItems() {
			if err := s.carts.Delete(ctx, cart.ID); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					// A concurrent sweep already removed it.
					continue
				}
				result.Errors = append(result.Errors, fmt.Sprintf("delete %s: %v", cart.ID, err))
				slog.Error("Failed to delete empty cart", "cart_id", cart.ID, "err", err)
				continue
			}
			result.Deleted++
			continue
		}

		note := fmt.Sprintf("automatically marked abandoned after %d minutes of inactivity", ttl)
		if err := s.carts.MarkAbandoned(ctx, cart.ID, note, now); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("mark %s: %v", cart.ID, err))
			slog.Error("Failed to mark cart abandoned", "cart_id", cart.ID, "err", err)
			continue
		}
		result.Updated++

		if s.publisher != nil {
			event := entity.CartAbandonedEvent{
				CartID:     cart.ID,
				SessionID:  cart.SessionID,
				CartTotal:  cart.CartTotal,
				TTLMinutes: ttl,
				MarkedAt:   now,
			}
			if err := s.publisher.PublishEvent(ctx, messaging.TopicCartsAbandoned, cart.SessionID, event); err != nil {
				slog.Error("Failed to publish cart abandoned event", "cart_id", cart.ID, "err", err)
			}
		}
	}

	slog.Info("Cleanup sweep finished",
		"checked", result.TotalChecked, "updated", result.Updated,
		"deleted", result.Deleted, "errors", len(result.Errors), "ttl_minutes", ttl)
	return result
}
