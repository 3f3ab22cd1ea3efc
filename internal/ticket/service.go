package ticket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/silveridc/verigate/internal/captcha"
	"github.com/silveridc/verigate/internal/store"
	"github.com/silveridc/verigate/pkg/models"
)

// Sentinel errors for ticket lifecycle failures. NotFoundOrExpired and
// AlreadyUsedOrInvalid are deliberately coarse: the public API never
// distinguishes "doesn't exist" from "expired" outside the diagnostic path.
var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFoundOrExpired    = errors.New("ticket not found or expired")
	ErrChallengeRejected    = errors.New("challenge verification failed")
	ErrAlreadyUsedOrInvalid = errors.New("code already used or invalid")
)

const maxCorrelationIDLength = 64
const maxUserAgentLength = 500

// Settings supplies the dynamic configuration the ticket lifecycle needs.
type Settings interface {
	CodeTTL(ctx context.Context) time.Duration
	TokenSalt(ctx context.Context) string
	CaptchaID(ctx context.Context) string
}

// Service owns the ticket state machine: pending -> verified -> used, with
// expiry fencing on every transition and physical removal only via Cleanup.
type Service struct {
	store    store.Store
	verifier captcha.Verifier
	settings Settings
}

// NewService creates a ticket service.
func NewService(s store.Store, v captcha.Verifier, cfg Settings) *Service {
	return &Service{store: s, verifier: v, settings: cfg}
}

// CreateParams describes a ticket creation request.
type CreateParams struct {
	OwnerKeyID int64
	GroupID    string
	UserID     string
	IP         string
	UserAgent  string
}

// Create issues a new pending ticket. The token is a collision-resistant
// digest over the correlation pair, the creation instant, the configured
// salt, and fresh random bytes, so two requests in the same instant cannot
// collide.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.Ticket, error) {
	if err := validateCorrelationID("group_id", p.GroupID); err != nil {
		return nil, err
	}
	if err := validateCorrelationID("user_id", p.UserID); err != nil {
		return nil, err
	}

	token, err := NewToken(p.GroupID, p.UserID, s.settings.TokenSalt(ctx))
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ua := p.UserAgent
	if len(ua) > maxUserAgentLength {
		ua = ua[:maxUserAgentLength]
	}

	t := &models.Ticket{
		Token:      token,
		OwnerKeyID: p.OwnerKeyID,
		GroupID:    p.GroupID,
		UserID:     p.UserID,
		State:      models.TicketPending,
		IP:         p.IP,
		UserAgent:  ua,
		CreatedAt:  now,
		ExpireAt:   now.Add(s.settings.CodeTTL(ctx)),
	}

	if err := s.store.CreateTicket(ctx, t); err != nil {
		return nil, fmt.Errorf("create ticket: %w", err)
	}
	return t, nil
}

// StatusView is what the challenge page polls for.
type StatusView struct {
	Ticket        string `json:"ticket"`
	Verified      bool   `json:"verified"`
	Code          string `json:"code,omitempty"`
	CaptchaID     string `json:"captcha_id,omitempty"`
	CodeExpire    int    `json:"code_expire"`
	ExpireMinutes int    `json:"expire_minutes"`
}

// Status returns the current view of an unexpired ticket. The code is only
// exposed once verified; before that the page receives the provider id it
// needs to render the challenge.
func (s *Service) Status(ctx context.Context, token string) (*StatusView, error) {
	t, err := s.store.GetTicketByToken(ctx, token, time.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFoundOrExpired
	}
	if err != nil {
		return nil, fmt.Errorf("ticket status: %w", err)
	}

	ttl := s.settings.CodeTTL(ctx)
	view := &StatusView{
		Ticket:        t.Token,
		Verified:      t.State != models.TicketPending,
		CodeExpire:    int(ttl / time.Second),
		ExpireMinutes: int(ttl / time.Minute),
	}
	if view.Verified {
		view.Code = t.Code
	} else {
		view.CaptchaID = s.settings.CaptchaID(ctx)
	}
	return view, nil
}

// Complete handles the challenge provider callback: verify the proof, then
// transition pending -> verified and assign a code. Idempotent under
// repeated delivery: a ticket that is already verified (or used) returns its
// existing code without a second verification round-trip.
func (s *Service) Complete(ctx context.Context, token string, proof captcha.Proof) (string, error) {
	now := time.Now().UTC()

	t, err := s.store.GetTicketByToken(ctx, token, now)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrNotFoundOrExpired
	}
	if err != nil {
		return "", fmt.Errorf("complete ticket: %w", err)
	}

	if t.State != models.TicketPending {
		return t.Code, nil
	}

	passed, err := s.verifier.Verify(ctx, proof)
	if err != nil {
		// Provider failures are verification failures, never 5xx.
		slog.Warn("challenge verification error", "token", token, "error", err)
		return "", ErrChallengeRejected
	}
	if !passed {
		return "", ErrChallengeRejected
	}

	code, err := NewCode()
	if err != nil {
		return "", err
	}

	updated, err := s.store.MarkTicketVerified(ctx, token, code, now)
	if errors.Is(err, store.ErrNotFound) {
		// Lost a race with a concurrent callback; hand back whatever code
		// the winner assigned.
		existing, ferr := s.store.FindTicketByToken(ctx, token)
		if ferr != nil || existing.Code == "" {
			return "", ErrNotFoundOrExpired
		}
		return existing.Code, nil
	}
	if err != nil {
		return "", fmt.Errorf("complete ticket: %w", err)
	}
	return updated.Code, nil
}

// Consume exchanges a code for its ticket, exactly once. The verified ->
// used transition happens in a single conditional update at the storage
// layer, so of N concurrent callers racing on the same (group_id, code)
// exactly one succeeds.
func (s *Service) Consume(ctx context.Context, groupID, code string) (*models.Ticket, error) {
	if err := validateCorrelationID("group_id", groupID); err != nil {
		return nil, err
	}
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrValidation)
	}

	t, err := s.store.ConsumeTicket(ctx, groupID, code, time.Now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAlreadyUsedOrInvalid
	}
	if err != nil {
		return nil, fmt.Errorf("consume ticket: %w", err)
	}
	return t, nil
}

// Reason is a diagnostic result explaining why a code could not be consumed.
type Reason string

const (
	ReasonNotFound       Reason = "not_found"
	ReasonNotYetVerified Reason = "not_yet_verified"
	ReasonAlreadyUsed    Reason = "already_used"
	ReasonExpired        Reason = "expired"
)

// Diagnose inspects a code ignoring the state and expiry filters Consume
// applies, to report a specific failure reason. Read-only; storage errors
// degrade to ReasonNotFound.
func (s *Service) Diagnose(ctx context.Context, groupID, code string) Reason {
	t, err := s.store.FindTicketByCode(ctx, groupID, code)
	if err != nil {
		return ReasonNotFound
	}

	switch {
	case t.State == models.TicketUsed:
		return ReasonAlreadyUsed
	case t.Expired(time.Now().UTC()):
		return ReasonExpired
	case t.State == models.TicketPending:
		return ReasonNotYetVerified
	default:
		return ReasonNotFound
	}
}

// Cleanup deletes expired tickets. The default key purges every tenant's
// rows; any other key is scoped to its own.
func (s *Service) Cleanup(ctx context.Context, requesterKeyID int64, isDefault bool) (int64, error) {
	owner := requesterKeyID
	if isDefault {
		owner = 0
	}

	deleted, err := s.store.DeleteExpiredTickets(ctx, time.Now().UTC(), owner)
	if err != nil {
		return 0, fmt.Errorf("cleanup tickets: %w", err)
	}
	return deleted, nil
}

func validateCorrelationID(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	if len(value) > maxCorrelationIDLength {
		return fmt.Errorf("%w: %s too long", ErrValidation, field)
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return fmt.Errorf("%w: %s must be numeric", ErrValidation, field)
		}
	}
	return nil
}
