package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dvloznov/splitledger/internal/apperr"
	"github.com/dvloznov/splitledger/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// CreateGroupInput holds validated fields for a new group.
type CreateGroupInput struct {
	Name             string
	Description      string
	InitialMemberIDs []string
}

// GroupService manages groups and membership.
type GroupService struct {
	groups GroupRepository
	users  UserRepository
	log    zerolog.Logger
}

// NewGroupService creates a group service.
func NewGroupService(groups GroupRepository, users UserRepository, log zerolog.Logger) *GroupService {
	return &GroupService{groups: groups, users: users, log: log}
}

// CreateGroup creates a group. Every initial member must exist and the name must be unused.
func (s *GroupService) CreateGroup(ctx context.Context, in CreateGroupInput) (*domain.Group, error) {
	members := make([]string, 0, len(in.InitialMemberIDs))
	seen := make(map[string]struct{}, len(in.InitialMemberIDs))
	for _, id := range in.InitialMemberIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, err := s.users.FindUserByID(ctx, id); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, apperr.BadRequest("User with ID %s not found. Cannot create group.", id)
			}
			return nil, fmt.Errorf("CreateGroup: looking up member %s: %w", id, err)
		}
		members = append(members, id)
	}

	name := strings.TrimSpace(in.Name)
	existing, err := s.groups.FindGroupByName(ctx, name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("CreateGroup: looking up name: %w", err)
	}
	if existing != nil {
		return nil, apperr.Conflict("Group with name %q already exists.", name)
	}

	group := &domain.Group{
		ID:          uuid.NewString(),
		Name:        name,
		Description: in.Description,
		MemberIDs:   members,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.groups.CreateGroup(ctx, group); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return nil, apperr.Conflict("Group with name %q already exists.", name)
		}
		return nil, fmt.Errorf("CreateGroup: inserting group: %w", err)
	}

	s.log.Info().Str("group_id", group.ID).Int("members", len(members)).Msg("Group created")
	return group, nil
}

// GetGroup returns a group by ID.
func (s *GroupService) GetGroup(ctx context.Context, id string) (*domain.Group, error) {
	return findGroup(ctx, s.groups, id)
}

// AddMember adds an existing user to a group.
func (s *GroupService) AddMember(ctx context.Context, groupID, userID string) (*domain.Group, error) {
	group, err := findGroup(ctx, s.groups, groupID)
	if err != nil {
		return nil, err
	}
	user, err := s.findUser(ctx, userID, "User with ID %s not found.")
	if err != nil {
		return nil, err
	}
	if group.HasMember(userID) {
		return nil, apperr.Conflict("User %s is already a member of group %s.", user.Name, group.Name)
	}

	if err := s.groups.AddMember(ctx, groupID, userID); err != nil {
		return nil, fmt.Errorf("AddMember: %w", err)
	}
	group.MemberIDs = append(group.MemberIDs, userID)
	return group, nil
}

// RemoveMember removes a member from a group.
func (s *GroupService) RemoveMember(ctx context.Context, groupID, userID string) (*domain.Group, error) {
	group, err := findGroup(ctx, s.groups, groupID)
	if err != nil {
		return nil, err
	}
	user, err := s.findUser(ctx, userID, "User with ID %s not found. Cannot remove from group.")
	if err != nil {
		return nil, err
	}
	if !group.HasMember(userID) {
		return nil, apperr.BadRequest("User %s is not a member of group %s.", user.Name, group.Name)
	}

	if err := s.groups.RemoveMember(ctx, groupID, userID); err != nil {
		return nil, fmt.Errorf("RemoveMember: %w", err)
	}
	remaining := group.MemberIDs[:0]
	for _, id := range group.MemberIDs {
		if id != userID {
			remaining = append(remaining, id)
		}
	}
	group.MemberIDs = remaining
	return group, nil
}

func (s *GroupService) findUser(ctx context.Context, id, notFoundMsg string) (*domain.User, error) {
	user, err := s.users.FindUserByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound(notFoundMsg, id)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user %s: %w", id, err)
	}
	return user, nil
}

func findGroup(ctx context.Context, groups GroupRepository, id string) (*domain.Group, error) {
	group, err := groups.FindGroupByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("Group with ID %s not found.", id)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up group %s: %w", id, err)
	}
	return group, nil
}
