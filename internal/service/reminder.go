package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"time"

	"github.com/oakmart/storefront-backend/internal/email"
	"github.com/oakmart/storefront-backend/internal/entity"
	"github.com/oakmart/storefront-backend/internal/messaging"
	"github.com/oakmart/storefront-backend/internal/repository"
)

// DefaultReminderBatchSize bounds how many carts one run processes per stage.
const DefaultReminderBatchSize = 250

// Minimum gap between two reminders to the same cart.
const interReminderGap = 24 * time.Hour

// How long a cart must be inactive before each stage becomes eligible.
var stageActivityGate = map[int]time.Duration{
	1: 24 * time.Hour,
	2: 48 * time.Hour,
	3: 72 * time.Hour,
}

// StageResult reports one stage of a scheduler run.
type StageResult struct {
	Stage     int      `json:"stage"`
	Attempted int      `json:"attempted"`
	Sent      int      `json:"sent"`
	Errors    []string `json:"errors,omitempty"`
}

// ReminderService sends up to three escalating recovery emails per
// abandoned cart. A stage is consumed only when its send succeeds; the
// stage claim is a conditional write, so two overlapping runs cannot both
// send the same stage.
type ReminderService struct {
	carts     repository.CartRepository
	products  repository.ProductRepository
	mailer    email.Mailer
	publisher messaging.Publisher

	batchSize   int
	checkoutURL string
	now         func() time.Time
}

func NewReminderService(carts repository.CartRepository, products repository.ProductRepository, mailer email.Mailer, publisher messaging.Publisher, checkoutURL string) *ReminderService {
	return &ReminderService{
		carts:       carts,
		products:    products,
		mailer:      mailer,
		publisher:   publisher,
		batchSize:   DefaultReminderBatchSize,
		checkoutURL: checkoutURL,
		now:         time.Now,
	}
}

// Run processes stage 1, then stage 2, then stage 3, each as an
// independent bounded query served oldest-activity-first.
func (s *ReminderService) Run(ctx context.Context) []StageResult {
	results := make([]StageResult, 0, 3)
	for stage := 1; stage <= 3; stage++ {
		results = append(results, s.runStage(ctx, stage))
	}
	return results
}

func (s *ReminderService) runStage(ctx context.Context, stage int) StageResult {
	result := StageResult{Stage: stage}
	now := s.now()

	activityBefore := now.Add(-stageActivityGate[stage])
	sentBefore := now
	if stage > 1 {
		sentBefore = now.Add(-interReminderGap)
	}

	candidates, err := s.carts.FindReminderCandidates(ctx, stage, activityBefore, sentBefore, s.batchSize)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to query stage %d candidates: %v", stage, err))
		return result
	}

	for _, cart := range candidates {
		// Malformed addresses are excluded, not treated as errors.
		if _, err := mail.ParseAddress(cart.CustomerEmail); err != nil {
			continue
		}
		result.Attempted++

		if s.sendReminder(ctx, &cart, stage, now, &result) {
			result.Sent++
		}
	}

	slog.Info("Reminder stage finished",
		"stage", stage, "attempted", result.Attempted,
		"sent", result.Sent, "errors", len(result.Errors))
	return result
}

// sendReminder claims the stage, renders and sends the email, and rolls the
// claim back on send failure so the cart stays eligible for retry.
func (s *ReminderService) sendReminder(ctx context.Context, cart *entity.AbandonedCart, stage int, now time.Time, result *StageResult) bool {
	lines, total := s.priceLines(ctx, cart)

	content, err := email.RenderReminder(stage, cart.CustomerName, lines, total, s.recoveryLink(cart.SessionID))
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("render for %s: %v", cart.ID, err))
		return false
	}

	claimed, err := s.carts.ClaimReminderStage(ctx, cart.ID, stage, now)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("claim for %s: %v", cart.ID, err))
		return false
	}
	if !claimed {
		// Another run got there first, or the cart recovered meanwhile.
		return false
	}

	if err := s.mailer.Send(ctx, cart.CustomerEmail, content.Subject, content.HTML, content.Text); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("send for %s: %v", cart.ID, err))
		// Put the stage back, restoring the pre-claim send stamp so the
		// next run retries immediately. If even the rollback fails the
		// stage stays consumed, which errs on the side of never
		// double-sending.
		if relErr := s.carts.ReleaseReminderStage(ctx, cart.ID, stage, cart.RecoveryEmailSentAt); relErr != nil {
			slog.Error("Failed to roll back reminder stage",
				"cart_id", cart.ID, "stage", stage, "err", relErr)
		}
		return false
	}

	if s.publisher != nil {
		event := entity.ReminderSent{
			CartID:    cart.ID,
			SessionID: cart.SessionID,
			Stage:     stage,
			Email:     cart.CustomerEmail,
			SentAt:    now,
		}
		if err := s.publisher.PublishEvent(ctx, messaging.TopicRemindersSent, cart.SessionID, event); err != nil {
			slog.Error("Failed to publish reminder sent event", "cart_id", cart.ID, "err", err)
		}
	}
	return true
}

// priceLines recomputes the itemized table from current product prices.
// When any line cannot be resolved it falls back to the stored cart total
// snapshot with no itemization.
func (s *ReminderService) priceLines(ctx context.Context, cart *entity.AbandonedCart) ([]email.ReminderLine, float64) {
	lines := make([]email.ReminderLine, 0, len(cart.Items))
	var total float64
	for _, item := range cart.Items {
		if item.Quantity <= 0 {
			continue
		}
		p, err := s.products.FindByID(ctx, item.ProductID)
		if err != nil {
			if !errors.Is(err, repository.ErrNotFound) {
				slog.Error("Failed to resolve product for reminder",
					"cart_id", cart.ID, "product_id", item.ProductID, "err", err)
			}
			return nil, cart.CartTotal
		}
		line := email.ReminderLine{
			Name:      p.Name,
			Quantity:  item.Quantity,
			UnitPrice: p.Price,
			LineTotal: p.Price * float64(item.Quantity),
		}
		lines = append(lines, line)
		total += line.LineTotal
	}
	if len(lines) == 0 {
		return nil, cart.CartTotal
	}
	return lines, total
}

func (s *ReminderService) recoveryLink(sessionID string) string {
	return s.checkoutURL + "/checkout?session=" + url.QueryEscape(sessionID)
}
