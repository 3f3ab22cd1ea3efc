package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/silveridc/verigate/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const keyColumns = `id, secret, status, ip_whitelist, last_action_at, created_at, updated_at`

func scanKey(row pgx.Row) (*models.ApiKey, error) {
	var k models.ApiKey
	err := row.Scan(&k.ID, &k.Secret, &k.Status, &k.IPWhitelist,
		&k.LastActionAt, &k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// --- API Keys ---

func (s *PostgresStore) ListActiveKeys(ctx context.Context) ([]*models.ApiKey, error) {
	return s.queryKeys(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE status = 1 ORDER BY id ASC`)
}

func (s *PostgresStore) ListKeys(ctx context.Context) ([]*models.ApiKey, error) {
	return s.queryKeys(ctx,
		`SELECT `+keyColumns+` FROM api_keys ORDER BY id ASC`)
}

func (s *PostgresStore) queryKeys(ctx context.Context, query string) ([]*models.ApiKey, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.ApiKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) GetKey(ctx context.Context, id int64) (*models.ApiKey, error) {
	k, err := scanKey(s.pool.QueryRow(ctx,
		`SELECT `+keyColumns+` FROM api_keys WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return k, nil
}

func (s *PostgresStore) CountKeys(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM api_keys`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count api keys: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) CreateKey(ctx context.Context, secret, ipWhitelist string) (*models.ApiKey, error) {
	k, err := scanKey(s.pool.QueryRow(ctx,
		`INSERT INTO api_keys (secret, status, ip_whitelist)
		 VALUES ($1, 1, $2)
		 RETURNING `+keyColumns, secret, ipWhitelist))
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("create api key: %w", err)
	}
	return k, nil
}

func (s *PostgresStore) UpdateKeySecret(ctx context.Context, id int64, secret string) (*models.ApiKey, error) {
	k, err := scanKey(s.pool.QueryRow(ctx,
		`UPDATE api_keys SET secret = $2, updated_at = NOW()
		 WHERE id = $1
		 RETURNING `+keyColumns, id, secret))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update api key secret: %w", err)
	}
	return k, nil
}

func (s *PostgresStore) UpdateKeyStatus(ctx context.Context, id int64, status int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update api key status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteKey(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM api_keys WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) TouchKeyLastAction(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_action_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch api key last action: %w", err)
	}
	return nil
}

// --- Tickets ---

const ticketColumns = `id, token, owner_key_id, group_id, user_id, COALESCE(code, ''), state,
	ip, user_agent, created_at, expire_at, verified_at, used_at`

func scanTicket(row pgx.Row) (*models.Ticket, error) {
	var t models.Ticket
	err := row.Scan(&t.ID, &t.Token, &t.OwnerKeyID, &t.GroupID, &t.UserID, &t.Code, &t.State,
		&t.IP, &t.UserAgent, &t.CreatedAt, &t.ExpireAt, &t.VerifiedAt, &t.UsedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) CreateTicket(ctx context.Context, t *models.Ticket) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO tickets (token, owner_key_id, group_id, user_id, state, ip, user_agent, created_at, expire_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id`,
		t.Token, t.OwnerKeyID, t.GroupID, t.UserID, t.State, t.IP, t.UserAgent,
		t.CreatedAt, t.ExpireAt,
	).Scan(&t.ID)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create ticket: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTicketByToken(ctx context.Context, token string, now time.Time) (*models.Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE token = $1 AND expire_at > $2`,
		token, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket by token: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) FindTicketByToken(ctx context.Context, token string) (*models.Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE token = $1`, token))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find ticket by token: %w", err)
	}
	return t, nil
}

// MarkTicketVerified is a conditional transition: only a pending, unexpired
// ticket is updated. A concurrent callback that already verified the ticket
// leaves this call with ErrNotFound; the caller re-reads for the stored code.
func (s *PostgresStore) MarkTicketVerified(ctx context.Context, token, code string, now time.Time) (*models.Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx,
		`UPDATE tickets SET code = $2, state = 'verified', verified_at = $3
		 WHERE token = $1 AND state = 'pending' AND expire_at > $3
		 RETURNING `+ticketColumns, token, code, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mark ticket verified: %w", err)
	}
	return t, nil
}

// ConsumeTicket performs the verified -> used transition as a single
// conditional update. The condition check and the write are one statement, so
// concurrent consumers racing on the same (group_id, code) see exactly one
// row returned; everyone else gets ErrNotFound.
func (s *PostgresStore) ConsumeTicket(ctx context.Context, groupID, code string, now time.Time) (*models.Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx,
		`UPDATE tickets SET state = 'used', used_at = $3
		 WHERE group_id = $1 AND code = $2 AND state = 'verified' AND expire_at > $3
		 RETURNING `+ticketColumns, groupID, code, now))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("consume ticket: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) FindTicketByCode(ctx context.Context, groupID, code string) (*models.Ticket, error) {
	t, err := scanTicket(s.pool.QueryRow(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE group_id = $1 AND code = $2`,
		groupID, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find ticket by code: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) DeleteExpiredTickets(ctx context.Context, now time.Time, ownerKeyID int64) (int64, error) {
	var (
		tag pgconn.CommandTag
		err error
	)
	if ownerKeyID > 0 {
		tag, err = s.pool.Exec(ctx,
			`DELETE FROM tickets WHERE expire_at < $1 AND owner_key_id = $2`, now, ownerKeyID)
	} else {
		tag, err = s.pool.Exec(ctx,
			`DELETE FROM tickets WHERE expire_at < $1`, now)
	}
	if err != nil {
		return 0, fmt.Errorf("delete expired tickets: %w", err)
	}
	return tag.RowsAffected(), nil
}

// --- Settings ---

func (s *PostgresStore) GetSetting(ctx context.Context, name string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM settings WHERE name = $1`, name).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

func (s *PostgresStore) UpsertSetting(ctx context.Context, name, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO settings (name, value)
		 VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		name, value)
	if err != nil {
		return fmt.Errorf("upsert setting: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListSettings(ctx context.Context) ([]*models.Setting, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, value, created_at, updated_at FROM settings ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var settings []*models.Setting
	for rows.Next() {
		var st models.Setting
		if err := rows.Scan(&st.ID, &st.Name, &st.Value, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings = append(settings, &st)
	}
	return settings, rows.Err()
}

// --- Call logs ---

func (s *PostgresStore) CreateCallLog(ctx context.Context, log *models.CallLog) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_call_logs (api_key_id, endpoint, method, status_code, group_id, user_id, ticket, code, ip, user_agent, duration_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		log.ApiKeyID, log.Endpoint, log.Method, log.StatusCode, log.GroupID, log.UserID,
		log.Ticket, log.Code, log.IP, log.UserAgent, log.DurationMs, log.CreatedAt)
	if err != nil {
		return fmt.Errorf("create call log: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
