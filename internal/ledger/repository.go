// Package ledger implements the user, group, expense and settlement services
// invoked by bulk commands.
package ledger

import (
	"context"
	"errors"

	"github.com/dvloznov/splitledger/internal/domain"
)

// ErrNotFound is returned by repositories when an entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned by repositories when a unique key is already taken.
var ErrDuplicate = errors.New("duplicate")

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	FindUserByID(ctx context.Context, id string) (*domain.User, error)
	FindUserByEmail(ctx context.Context, email string) (*domain.User, error)
}

// GroupRepository persists groups and their membership.
type GroupRepository interface {
	CreateGroup(ctx context.Context, group *domain.Group) error
	FindGroupByID(ctx context.Context, id string) (*domain.Group, error)
	FindGroupByName(ctx context.Context, name string) (*domain.Group, error)
	AddMember(ctx context.Context, groupID, userID string) error
	RemoveMember(ctx context.Context, groupID, userID string) error
}

// ExpenseRepository persists expenses with their participant shares.
type ExpenseRepository interface {
	CreateExpense(ctx context.Context, expense *domain.Expense) error
	FindExpenseByID(ctx context.Context, id string) (*domain.Expense, error)
}

// SettlementRepository persists settlements.
type SettlementRepository interface {
	CreateSettlement(ctx context.Context, settlement *domain.Settlement) error
	FindSettlementByID(ctx context.Context, id string) (*domain.Settlement, error)
}
