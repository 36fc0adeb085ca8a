package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/escobar-tracker/internal/feed"
	"github.com/mmeshcher/escobar-tracker/internal/model"
	"github.com/mmeshcher/escobar-tracker/internal/validation"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// changesChannel задаёт канал LISTEN/NOTIFY, по которому рассылаются изменения записей.
const changesChannel = "escobar_changes"

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	opts   Options
	broker *feed.Broker
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string, opts Options) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		opts:   opts.withDefaults(),
		broker: feed.NewBroker(),
	}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// Broker возвращает брокер, в который пересылаются уведомления PostgreSQL.
func (r *PostgresRepository) Broker() *feed.Broker {
	return r.broker
}

// Listen слушает канал уведомлений и пересылает изменения в брокер до отмены контекста.
func (r *PostgresRepository) Listen(ctx context.Context) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listen conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+changesChannel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("wait for notification: %w", err)
		}

		var c feed.Change
		if err := json.Unmarshal([]byte(n.Payload), &c); err != nil {
			continue
		}
		r.broker.Publish(c)
	}
}

// RunInTx выполняет fn в SERIALIZABLE-транзакции, повторяя её при конфликтах сериализации.
func (r *PostgresRepository) RunInTx(ctx context.Context, fn TxFunc) error {
	return withRetry(ctx, r.opts, isRetryable, func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		ptx := &pgTx{tx: tx}
		if err := tx.QueryRow(ctx, `SELECT clock_timestamp()`).Scan(&ptx.now); err != nil {
			return fmt.Errorf("read clock: %w", err)
		}

		if err := fn(ctx, ptx); err != nil {
			return err
		}

		// уведомления доставляются только после фиксации
		for _, c := range ptx.changes {
			payload, err := json.Marshal(c)
			if err != nil {
				return fmt.Errorf("marshal change: %w", err)
			}
			if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, changesChannel, string(payload)); err != nil {
				return fmt.Errorf("notify: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

func isRetryable(err error) bool {
	// Ретраи полезны для Serialization Failure или Deadlocks.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}
	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.CheckViolation
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// GetCredential возвращает учётные данные по каноничному логину.
func (r *PostgresRepository) GetCredential(ctx context.Context, canonical string) (*model.Credential, error) {
	var c model.Credential
	err := r.pool.QueryRow(ctx,
		`SELECT member_id, handle, handle_canonical, password_hash, created_at
		 FROM credentials WHERE handle_canonical = $1`,
		canonical,
	).Scan(&c.MemberID, &c.Handle, &c.Canonical, &c.PasswordHash, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &c, nil
}

const memberColumns = `id, handle, balance, disabled, created_at`

func scanMember(row pgx.Row) (*model.Member, error) {
	var m model.Member
	if err := row.Scan(&m.ID, &m.Handle, &m.Balance, &m.Disabled, &m.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrMemberNotFound
		}
		return nil, fmt.Errorf("scan member: %w", err)
	}
	return &m, nil
}

// GetMember возвращает участника по идентификатору.
func (r *PostgresRepository) GetMember(ctx context.Context, id string) (*model.Member, error) {
	return scanMember(r.pool.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM members WHERE id = $1`, id))
}

// GetOfficer возвращает запись реестра офицеров.
func (r *PostgresRepository) GetOfficer(ctx context.Context, memberID string) (*model.Officer, error) {
	o := model.Officer{MemberID: memberID}
	err := r.pool.QueryRow(ctx,
		`SELECT enabled FROM officers WHERE member_id = $1`, memberID,
	).Scan(&o.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrOfficerNotFound
		}
		return nil, fmt.Errorf("get officer: %w", err)
	}
	return &o, nil
}

// ListMembers возвращает участников, упорядоченных по логину.
func (r *PostgresRepository) ListMembers(ctx context.Context, limit int) ([]model.Member, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+memberColumns+`
		 FROM members
		 ORDER BY handle_canonical, handle
		 LIMIT $1`,
		limitOrAll(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("select members: %w", err)
	}
	defer rows.Close()

	var res []model.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// ListLogs возвращает журнал участника, новые записи первыми.
func (r *PostgresRepository) ListLogs(ctx context.Context, memberID string, limit int) ([]model.LogEntry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, member_id, kind, amount, reason, COALESCE(officer_id, ''), COALESCE(request_id, ''), created_at
		 FROM member_logs
		 WHERE member_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		memberID, limitOrAll(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("select logs: %w", err)
	}
	defer rows.Close()

	var res []model.LogEntry
	for rows.Next() {
		var (
			e    model.LogEntry
			kind string
		)
		if err := rows.Scan(&e.ID, &e.MemberID, &kind, &e.Amount, &e.Reason, &e.OfficerID, &e.RequestID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		e.Kind = model.LogKind(kind)
		res = append(res, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

const requestColumns = `id, member_id, handle, amount, reason, status, created_at, handled_at, COALESCE(handled_by, ''), officer_note`

func scanRequest(row pgx.Row) (*model.SpendRequest, error) {
	var (
		sr     model.SpendRequest
		status string
	)
	err := row.Scan(&sr.ID, &sr.MemberID, &sr.Handle, &sr.Amount, &sr.Reason, &status,
		&sr.CreatedAt, &sr.HandledAt, &sr.HandledBy, &sr.OfficerNote)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrRequestNotFound
		}
		return nil, fmt.Errorf("scan spend request: %w", err)
	}
	sr.Status = model.RequestStatus(status)
	return &sr, nil
}

// ListSpendRequests возвращает заявки по фильтру, новые первыми.
func (r *PostgresRepository) ListSpendRequests(ctx context.Context, f RequestFilter) ([]model.SpendRequest, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+requestColumns+`
		 FROM spend_requests
		 WHERE ($1 = '' OR status = $1) AND ($2 = '' OR member_id = $2)
		 ORDER BY created_at DESC
		 LIMIT $3`,
		string(f.Status), f.MemberID, limitOrAll(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("select spend requests: %w", err)
	}
	defer rows.Close()

	var res []model.SpendRequest
	for rows.Next() {
		sr, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *sr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// ListAnnouncements возвращает объявления, новые первыми.
func (r *PostgresRepository) ListAnnouncements(ctx context.Context, limit int) ([]model.Announcement, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, body, officer_id, created_at
		 FROM announcements
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limitOrAll(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("select announcements: %w", err)
	}
	defer rows.Close()

	var res []model.Announcement
	for rows.Next() {
		var a model.Announcement
		if err := rows.Scan(&a.ID, &a.Title, &a.Body, &a.OfficerID, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan announcement: %w", err)
		}
		res = append(res, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// LedgerTotals возвращает баланс и сумму журнала каждого участника.
func (r *PostgresRepository) LedgerTotals(ctx context.Context) ([]model.LedgerTotals, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.handle, m.balance,
		        COALESCE(SUM(CASE WHEN l.kind IN ('deduct', 'spend') THEN -l.amount ELSE l.amount END), 0)
		 FROM members m
		 LEFT JOIN member_logs l ON l.member_id = m.id
		 GROUP BY m.id, m.handle, m.balance
		 ORDER BY m.id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select ledger totals: %w", err)
	}
	defer rows.Close()

	var res []model.LedgerTotals
	for rows.Next() {
		var t model.LedgerTotals
		if err := rows.Scan(&t.MemberID, &t.Handle, &t.Balance, &t.LogSum); err != nil {
			return nil, fmt.Errorf("scan ledger totals: %w", err)
		}
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

// limitOrAll превращает неположительный лимит в NULL, что в PostgreSQL означает «без ограничения».
func limitOrAll(limit int) any {
	if limit <= 0 {
		return nil
	}
	return limit
}

// pgTx реализует Tx поверх pgx.Tx. Читаемые строки блокируются через SELECT ... FOR UPDATE.
type pgTx struct {
	tx      pgx.Tx
	now     time.Time
	changes []feed.Change
}

func (t *pgTx) Now() time.Time {
	return t.now
}

func (t *pgTx) changed(c feed.Change) {
	t.changes = append(t.changes, c)
}

func (t *pgTx) GetMember(ctx context.Context, id string) (*model.Member, error) {
	return scanMember(t.tx.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM members WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) CreateMember(ctx context.Context, m model.Member) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = t.now
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO members (id, handle, handle_canonical, balance, disabled, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		m.ID, m.Handle, validation.CanonicalHandle(m.Handle), m.Balance, m.Disabled, m.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrHandleTaken
		}
		return fmt.Errorf("insert member: %w", err)
	}
	t.changed(feed.Change{Collection: feed.Members, ID: m.ID, MemberID: m.ID})
	return nil
}

func (t *pgTx) UpdateMember(ctx context.Context, m model.Member) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE members SET balance = $2, disabled = $3 WHERE id = $1`,
		m.ID, m.Balance, m.Disabled,
	)
	if err != nil {
		if isCheckViolation(err) {
			return model.ErrWouldGoNegative
		}
		return fmt.Errorf("update member: %w", err)
	}
	t.changed(feed.Change{Collection: feed.Members, ID: m.ID, MemberID: m.ID})
	return nil
}

func (t *pgTx) AppendLog(ctx context.Context, e model.LogEntry) (model.LogEntry, error) {
	e.ID = uuid.NewString()
	err := t.tx.QueryRow(ctx,
		`INSERT INTO member_logs (id, member_id, kind, amount, reason, officer_id, request_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING created_at`,
		e.ID, e.MemberID, string(e.Kind), e.Amount, e.Reason, nullable(e.OfficerID), nullable(e.RequestID),
	).Scan(&e.CreatedAt)
	if err != nil {
		return model.LogEntry{}, fmt.Errorf("insert log: %w", err)
	}
	t.changed(feed.Change{Collection: feed.Logs, ID: e.ID, MemberID: e.MemberID})
	return e, nil
}

func (t *pgTx) CreateCredential(ctx context.Context, c model.Credential) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO credentials (handle_canonical, handle, member_id, password_hash)
		 VALUES ($1, $2, $3, $4)`,
		c.Canonical, c.Handle, c.MemberID, c.PasswordHash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", model.ErrHandleTaken, c.Handle)
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

func (t *pgTx) GetSpendRequest(ctx context.Context, id string) (*model.SpendRequest, error) {
	return scanRequest(t.tx.QueryRow(ctx,
		`SELECT `+requestColumns+` FROM spend_requests WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) CreateSpendRequest(ctx context.Context, sr model.SpendRequest) (model.SpendRequest, error) {
	sr.ID = uuid.NewString()
	err := t.tx.QueryRow(ctx,
		`INSERT INTO spend_requests (id, member_id, handle, amount, reason, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		sr.ID, sr.MemberID, sr.Handle, sr.Amount, sr.Reason, string(sr.Status),
	).Scan(&sr.CreatedAt)
	if err != nil {
		return model.SpendRequest{}, fmt.Errorf("insert spend request: %w", err)
	}
	t.changed(feed.Change{Collection: feed.SpendRequests, ID: sr.ID, MemberID: sr.MemberID})
	return sr, nil
}

func (t *pgTx) UpdateSpendRequest(ctx context.Context, sr model.SpendRequest) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE spend_requests
		 SET status = $2, handled_at = $3, handled_by = $4, officer_note = $5
		 WHERE id = $1`,
		sr.ID, string(sr.Status), sr.HandledAt, nullable(sr.HandledBy), sr.OfficerNote,
	)
	if err != nil {
		return fmt.Errorf("update spend request: %w", err)
	}
	t.changed(feed.Change{Collection: feed.SpendRequests, ID: sr.ID, MemberID: sr.MemberID})
	return nil
}

func (t *pgTx) GetOfficer(ctx context.Context, memberID string) (*model.Officer, error) {
	o := model.Officer{MemberID: memberID}
	err := t.tx.QueryRow(ctx,
		`SELECT enabled FROM officers WHERE member_id = $1 FOR SHARE`, memberID,
	).Scan(&o.Enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrOfficerNotFound
		}
		return nil, fmt.Errorf("get officer: %w", err)
	}
	return &o, nil
}

func (t *pgTx) PutOfficer(ctx context.Context, o model.Officer) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO officers (member_id, enabled) VALUES ($1, $2)
		 ON CONFLICT (member_id) DO UPDATE SET enabled = EXCLUDED.enabled`,
		o.MemberID, o.Enabled,
	)
	if err != nil {
		return fmt.Errorf("put officer: %w", err)
	}
	t.changed(feed.Change{Collection: feed.Officers, ID: o.MemberID, MemberID: o.MemberID})
	return nil
}

func (t *pgTx) CreateAnnouncement(ctx context.Context, a model.Announcement) (model.Announcement, error) {
	a.ID = uuid.NewString()
	err := t.tx.QueryRow(ctx,
		`INSERT INTO announcements (id, title, body, officer_id)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		a.ID, a.Title, a.Body, a.OfficerID,
	).Scan(&a.CreatedAt)
	if err != nil {
		return model.Announcement{}, fmt.Errorf("insert announcement: %w", err)
	}
	t.changed(feed.Change{Collection: feed.Announcements, ID: a.ID})
	return a, nil
}
