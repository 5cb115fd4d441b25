// Package inmemory provides map-backed ledger repositories for local runs and tests.
package inmemory

import (
	"context"
	"strings"
	"sync"

	"github.com/dvloznov/splitledger/internal/domain"
	"github.com/dvloznov/splitledger/internal/ledger"
)

// Store implements every ledger repository in memory. It is safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	users       map[string]domain.User
	groups      map[string]domain.Group
	expenses    map[string]domain.Expense
	settlements map[string]domain.Settlement
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:       make(map[string]domain.User),
		groups:      make(map[string]domain.Group),
		expenses:    make(map[string]domain.Expense),
		settlements: make(map[string]domain.Settlement),
	}
}

// CreateUser implements ledger.UserRepository.
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return ledger.ErrDuplicate
		}
	}
	s.users[user.ID] = *user
	return nil
}

// FindUserByID implements ledger.UserRepository.
func (s *Store) FindUserByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &u, nil
}

// FindUserByEmail implements ledger.UserRepository.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			found := u
			return &found, nil
		}
	}
	return nil, ledger.ErrNotFound
}

// CreateGroup implements ledger.GroupRepository.
func (s *Store) CreateGroup(ctx context.Context, group *domain.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, g := range s.groups {
		if g.Name == group.Name {
			return ledger.ErrDuplicate
		}
	}
	s.groups[group.ID] = copyGroup(*group)
	return nil
}

// FindGroupByID implements ledger.GroupRepository.
func (s *Store) FindGroupByID(ctx context.Context, id string) (*domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.groups[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	c := copyGroup(g)
	return &c, nil
}

// FindGroupByName implements ledger.GroupRepository.
func (s *Store) FindGroupByName(ctx context.Context, name string) (*domain.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, g := range s.groups {
		if g.Name == name {
			c := copyGroup(g)
			return &c, nil
		}
	}
	return nil, ledger.ErrNotFound
}

// AddMember implements ledger.GroupRepository.
func (s *Store) AddMember(ctx context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return ledger.ErrNotFound
	}
	if g.HasMember(userID) {
		return ledger.ErrDuplicate
	}
	g.MemberIDs = append(g.MemberIDs, userID)
	s.groups[groupID] = g
	return nil
}

// RemoveMember implements ledger.GroupRepository.
func (s *Store) RemoveMember(ctx context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[groupID]
	if !ok {
		return ledger.ErrNotFound
	}
	members := make([]string, 0, len(g.MemberIDs))
	for _, id := range g.MemberIDs {
		if id != userID {
			members = append(members, id)
		}
	}
	g.MemberIDs = members
	s.groups[groupID] = g
	return nil
}

// CreateExpense implements ledger.ExpenseRepository.
func (s *Store) CreateExpense(ctx context.Context, expense *domain.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := *expense
	e.Participants = append(e.Participants[:0:0], expense.Participants...)
	s.expenses[e.ID] = e
	return nil
}

// FindExpenseByID implements ledger.ExpenseRepository.
func (s *Store) FindExpenseByID(ctx context.Context, id string) (*domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.expenses[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	e.Participants = append(e.Participants[:0:0], e.Participants...)
	return &e, nil
}

// CreateSettlement implements ledger.SettlementRepository.
func (s *Store) CreateSettlement(ctx context.Context, settlement *domain.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settlements[settlement.ID] = *settlement
	return nil
}

// FindSettlementByID implements ledger.SettlementRepository.
func (s *Store) FindSettlementByID(ctx context.Context, id string) (*domain.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.settlements[id]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &st, nil
}

// Expenses returns every stored expense.
func (s *Store) Expenses() []domain.Expense {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Expense, 0, len(s.expenses))
	for _, e := range s.expenses {
		out = append(out, e)
	}
	return out
}

func copyGroup(g domain.Group) domain.Group {
	g.MemberIDs = append([]string(nil), g.MemberIDs...)
	return g
}

var (
	_ ledger.UserRepository       = (*Store)(nil)
	_ ledger.GroupRepository      = (*Store)(nil)
	_ ledger.ExpenseRepository    = (*Store)(nil)
	_ ledger.SettlementRepository = (*Store)(nil)
)
