package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/splitledger/internal/domain"
	"github.com/dvloznov/splitledger/internal/ledger"
	"github.com/dvloznov/splitledger/internal/split"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerStore implements the ledger repositories.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a ledger store.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// CreateUser implements ledger.UserRepository.
func (s *LedgerStore) CreateUser(ctx context.Context, user *domain.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, name, email, created_at) VALUES ($1, $2, $3, $4)`,
		user.ID, user.Name, user.Email, user.CreatedAt)
	if isUniqueViolation(err) {
		return ledger.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("CreateUser: %w", err)
	}
	return nil
}

// FindUserByID implements ledger.UserRepository.
func (s *LedgerStore) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	return s.findUser(ctx, `SELECT id, name, email, created_at FROM users WHERE id = $1`, id)
}

// FindUserByEmail implements ledger.UserRepository.
func (s *LedgerStore) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.findUser(ctx, `SELECT id, name, email, created_at FROM users WHERE email = $1`, email)
}

func (s *LedgerStore) findUser(ctx context.Context, query string, arg string) (*domain.User, error) {
	var u domain.User
	err := s.pool.QueryRow(ctx, query, arg).Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("findUser: %w", err)
	}
	return &u, nil
}

// CreateGroup implements ledger.GroupRepository.
func (s *LedgerStore) CreateGroup(ctx context.Context, group *domain.Group) error {
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO groups (id, name, description, created_at) VALUES ($1, $2, $3, $4)`,
			group.ID, group.Name, group.Description, group.CreatedAt)
		if err != nil {
			return err
		}

		rows := make([][]any, len(group.MemberIDs))
		for i, id := range group.MemberIDs {
			rows[i] = []any{group.ID, id, i}
		}
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"group_members"}, []string{"group_id", "user_id", "position"}, pgx.CopyFromRows(rows))
		return err
	})
	if isUniqueViolation(err) {
		return ledger.ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("CreateGroup: %w", err)
	}
	return nil
}

// FindGroupByID implements ledger.GroupRepository.
func (s *LedgerStore) FindGroupByID(ctx context.Context, id string) (*domain.Group, error) {
	return s.findGroup(ctx, `SELECT id, name, description, created_at FROM groups WHERE id = $1`, id)
}

// FindGroupByName implements ledger.GroupRepository.
func (s *LedgerStore) FindGroupByName(ctx context.Context, name string) (*domain.Group, error) {
	return s.findGroup(ctx, `SELECT id, name, description, created_at FROM groups WHERE name = $1`, name)
}

func (s *LedgerStore) findGroup(ctx context.Context, query, arg string) (*domain.Group, error) {
	var g domain.Group
	err := s.pool.QueryRow(ctx, query, arg).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("findGroup: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT user_id FROM group_members WHERE group_id = $1 ORDER BY position`, g.ID)
	if err != nil {
		return nil, fmt.Errorf("findGroup: members: %w", err)
	}
	members, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("findGroup: members: %w", err)
	}
	g.MemberIDs = members
	return &g, nil
}

// AddMember implements ledger.GroupRepository.
func (s *LedgerStore) AddMember(ctx context.Context, groupID, userID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO group_members (group_id, user_id, position)
		SELECT $1, $2, COALESCE(MAX(position) + 1, 0) FROM group_members WHERE group_id = $1
		ON CONFLICT (group_id, user_id) DO NOTHING`,
		groupID, userID)
	if err != nil {
		return fmt.Errorf("AddMember: %w", err)
	}
	return nil
}

// RemoveMember implements ledger.GroupRepository.
func (s *LedgerStore) RemoveMember(ctx context.Context, groupID, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return fmt.Errorf("RemoveMember: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// CreateExpense implements ledger.ExpenseRepository.
func (s *LedgerStore) CreateExpense(ctx context.Context, expense *domain.Expense) error {
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO expenses (id, group_id, payer_id, description, amount, currency, expense_date, split_type, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			expense.ID, expense.GroupID, expense.PayerID, expense.Description, expense.Amount,
			expense.Currency, dateToTime(expense.ExpenseDate), string(expense.SplitType), expense.CreatedAt)
		if err != nil {
			return err
		}

		rows := make([][]any, len(expense.Participants))
		for i, p := range expense.Participants {
			rows[i] = []any{expense.ID, p.ParticipantID, p.Amount}
		}
		_, err = tx.CopyFrom(ctx, pgx.Identifier{"expense_participants"}, []string{"expense_id", "user_id", "share"}, pgx.CopyFromRows(rows))
		return err
	})
	if err != nil {
		return fmt.Errorf("CreateExpense: %w", err)
	}
	return nil
}

// FindExpenseByID implements ledger.ExpenseRepository.
func (s *LedgerStore) FindExpenseByID(ctx context.Context, id string) (*domain.Expense, error) {
	var (
		e         domain.Expense
		date      time.Time
		splitType string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, group_id, payer_id, description, amount, currency, expense_date, split_type, created_at
		FROM expenses WHERE id = $1`, id).
		Scan(&e.ID, &e.GroupID, &e.PayerID, &e.Description, &e.Amount, &e.Currency, &date, &splitType, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("FindExpenseByID: %w", err)
	}
	e.ExpenseDate = civil.DateOf(date)
	e.SplitType = split.Type(splitType)

	rows, err := s.pool.Query(ctx, `SELECT user_id, share FROM expense_participants WHERE expense_id = $1 ORDER BY user_id`, id)
	if err != nil {
		return nil, fmt.Errorf("FindExpenseByID: participants: %w", err)
	}
	shares, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (split.Share, error) {
		var sh split.Share
		err := row.Scan(&sh.ParticipantID, &sh.Amount)
		return sh, err
	})
	if err != nil {
		return nil, fmt.Errorf("FindExpenseByID: participants: %w", err)
	}
	e.Participants = shares
	return &e, nil
}

// CreateSettlement implements ledger.SettlementRepository.
func (s *LedgerStore) CreateSettlement(ctx context.Context, settlement *domain.Settlement) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settlements (id, group_id, payer_id, payee_id, amount, currency, settlement_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		settlement.ID, settlement.GroupID, settlement.PayerID, settlement.PayeeID, settlement.Amount,
		settlement.Currency, dateToTime(settlement.SettlementDate), settlement.CreatedAt)
	if err != nil {
		return fmt.Errorf("CreateSettlement: %w", err)
	}
	return nil
}

// FindSettlementByID implements ledger.SettlementRepository.
func (s *LedgerStore) FindSettlementByID(ctx context.Context, id string) (*domain.Settlement, error) {
	var (
		st   domain.Settlement
		date time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, group_id, payer_id, payee_id, amount, currency, settlement_date, created_at
		FROM settlements WHERE id = $1`, id).
		Scan(&st.ID, &st.GroupID, &st.PayerID, &st.PayeeID, &st.Amount, &st.Currency, &date, &st.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("FindSettlementByID: %w", err)
	}
	st.SettlementDate = civil.DateOf(date)
	return &st, nil
}

func dateToTime(d civil.Date) time.Time {
	return d.In(time.UTC)
}

var (
	_ ledger.UserRepository       = (*LedgerStore)(nil)
	_ ledger.GroupRepository      = (*LedgerStore)(nil)
	_ ledger.ExpenseRepository    = (*LedgerStore)(nil)
	_ ledger.SettlementRepository = (*LedgerStore)(nil)
)
