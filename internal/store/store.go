package store

import (
	"context"
	"errors"
	"time"

	"github.com/silveridc/verigate/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	// API keys.
	ListActiveKeys(ctx context.Context) ([]*models.ApiKey, error)
	ListKeys(ctx context.Context) ([]*models.ApiKey, error)
	GetKey(ctx context.Context, id int64) (*models.ApiKey, error)
	CountKeys(ctx context.Context) (int64, error)
	CreateKey(ctx context.Context, secret, ipWhitelist string) (*models.ApiKey, error)
	UpdateKeySecret(ctx context.Context, id int64, secret string) (*models.ApiKey, error)
	UpdateKeyStatus(ctx context.Context, id int64, status int) error
	DeleteKey(ctx context.Context, id int64) error
	TouchKeyLastAction(ctx context.Context, id int64) error

	// Tickets.
	CreateTicket(ctx context.Context, t *models.Ticket) error
	GetTicketByToken(ctx context.Context, token string, now time.Time) (*models.Ticket, error)
	FindTicketByToken(ctx context.Context, token string) (*models.Ticket, error)
	MarkTicketVerified(ctx context.Context, token, code string, now time.Time) (*models.Ticket, error)
	ConsumeTicket(ctx context.Context, groupID, code string, now time.Time) (*models.Ticket, error)
	FindTicketByCode(ctx context.Context, groupID, code string) (*models.Ticket, error)
	DeleteExpiredTickets(ctx context.Context, now time.Time, ownerKeyID int64) (int64, error)

	// Settings.
	GetSetting(ctx context.Context, name string) (string, error)
	UpsertSetting(ctx context.Context, name, value string) error
	ListSettings(ctx context.Context) ([]*models.Setting, error)

	// Audit.
	CreateCallLog(ctx context.Context, log *models.CallLog) error
}
