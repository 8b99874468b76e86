// Package store persists groups, members, and messages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/agentarena/agentarena/internal/group/models"
)

var (
	// ErrGroupNotFound is returned when a group ID does not exist.
	ErrGroupNotFound = errors.New("group not found")
	// ErrMemberNotFound is returned when a member ID does not exist in the group.
	ErrMemberNotFound = errors.New("group member not found")
)

// ListMessagesOptions controls history reads. Limit bounds the number of
// newest messages returned; Before restricts to strictly older messages.
type ListMessagesOptions struct {
	Limit  int
	Before *time.Time
}

// Store is the persistence contract for the group chat plane.
// Messages are always returned in chronological order.
type Store interface {
	CreateGroup(ctx context.Context, group *models.Group) error
	GetGroup(ctx context.Context, id string) (*models.Group, error)
	ListGroups(ctx context.Context) ([]*models.Group, error)
	DeleteGroup(ctx context.Context, id string) error

	AddMember(ctx context.Context, member *models.GroupMember) error
	RemoveMember(ctx context.Context, groupID, memberID string) error
	ListMembers(ctx context.Context, groupID string) ([]*models.GroupMember, error)

	SaveMessage(ctx context.Context, message *models.Message) error
	GetMessages(ctx context.Context, groupID string, opts ListMessagesOptions) ([]*models.Message, error)
	SearchMessages(ctx context.Context, groupID, query string, limit int) ([]*models.Message, error)
	CountMessages(ctx context.Context, groupID string) (int64, error)

	Close() error
}
