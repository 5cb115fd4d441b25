package commands

import (
	"context"

	"github.com/dvloznov/splitledger/internal/domain"
	"github.com/dvloznov/splitledger/internal/ledger"
	"github.com/rs/zerolog"
)

// GroupManager is the domain surface behind the group commands.
type GroupManager interface {
	CreateGroup(ctx context.Context, in ledger.CreateGroupInput) (*domain.Group, error)
	AddMember(ctx context.Context, groupID, userID string) (*domain.Group, error)
	RemoveMember(ctx context.Context, groupID, userID string) (*domain.Group, error)
}

// CreateGroupStrategy handles CREATE_GROUP rows.
type CreateGroupStrategy struct {
	groups GroupManager
	log    zerolog.Logger
}

// NewCreateGroupStrategy creates the strategy.
func NewCreateGroupStrategy(groups GroupManager, log zerolog.Logger) *CreateGroupStrategy {
	return &CreateGroupStrategy{groups: groups, log: log}
}

// Type implements Strategy.
func (s *CreateGroupStrategy) Type() Type { return CreateGroup }

// Execute implements Strategy.
func (s *CreateGroupStrategy) Execute(ctx context.Context, cmd Context) Result {
	return run(ctx, s.log, cmd, func(ctx context.Context) (map[string]interface{}, error) {
		f := newFields(cmd.Record)
		in := ledger.CreateGroupInput{
			Name:             f.text(ColName, true),
			Description:      f.text(ColDescription, false),
			InitialMemberIDs: f.uuidList(ColInitialMemberIDs),
		}
		if err := f.err(cmd.Type); err != nil {
			return nil, err
		}

		group, err := s.groups.CreateGroup(ctx, in)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"groupId": group.ID,
			"members": len(group.MemberIDs),
		}, nil
	})
}

// MembershipStrategy handles ADD_USER_TO_GROUP and REMOVE_USER_FROM_GROUP rows.
type MembershipStrategy struct {
	t      Type
	groups GroupManager
	log    zerolog.Logger
}

// NewAddUserToGroupStrategy creates the ADD_USER_TO_GROUP strategy.
func NewAddUserToGroupStrategy(groups GroupManager, log zerolog.Logger) *MembershipStrategy {
	return &MembershipStrategy{t: AddUserToGroup, groups: groups, log: log}
}

// NewRemoveUserFromGroupStrategy creates the REMOVE_USER_FROM_GROUP strategy.
func NewRemoveUserFromGroupStrategy(groups GroupManager, log zerolog.Logger) *MembershipStrategy {
	return &MembershipStrategy{t: RemoveUserFromGroup, groups: groups, log: log}
}

// Type implements Strategy.
func (s *MembershipStrategy) Type() Type { return s.t }

// Execute implements Strategy.
func (s *MembershipStrategy) Execute(ctx context.Context, cmd Context) Result {
	return run(ctx, s.log, cmd, func(ctx context.Context) (map[string]interface{}, error) {
		f := newFields(cmd.Record)
		groupID := f.uuid(ColGroupID, true)
		userID := f.uuid(ColUserID, true)
		if err := f.err(cmd.Type); err != nil {
			return nil, err
		}

		var (
			group *domain.Group
			err   error
		)
		if s.t == AddUserToGroup {
			group, err = s.groups.AddMember(ctx, groupID, userID)
		} else {
			group, err = s.groups.RemoveMember(ctx, groupID, userID)
		}
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"groupId": group.ID,
			"userId":  userID,
			"members": len(group.MemberIDs),
		}, nil
	})
}

// DefaultStrategies builds one strategy per command type over the ledger services.
func DefaultStrategies(users UserCreator, groups GroupManager, expenses ExpenseCreator, settlements SettlementCreator, log zerolog.Logger) []Strategy {
	return []Strategy{
		NewCreateUserStrategy(users, log),
		NewCreateGroupStrategy(groups, log),
		NewAddUserToGroupStrategy(groups, log),
		NewRemoveUserFromGroupStrategy(groups, log),
		NewCreateExpenseStrategy(expenses, log),
		NewCreateSettlementStrategy(settlements, log),
	}
}
