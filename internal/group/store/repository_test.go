package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/agentarena/agentarena/internal/db"
	"github.com/agentarena/agentarena/internal/group/models"
)

func createTestRepository(t *testing.T) *Repository {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	dbConn, err := db.OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("failed to open SQLite database: %v", err)
	}
	sqlxDB := sqlx.NewDb(dbConn, db.DriverSQLite)
	repo, err := NewRepository(db.NewPool(sqlxDB, sqlxDB))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() {
		if err := repo.Close(); err != nil {
			t.Errorf("failed to close repo: %v", err)
		}
	})
	return repo
}

func createTestGroup(t *testing.T, repo *Repository) *models.Group {
	t.Helper()
	group := &models.Group{Name: "dev-team", Description: "backend work"}
	if err := repo.CreateGroup(context.Background(), group); err != nil {
		t.Fatalf("failed to create group: %v", err)
	}
	return group
}

func TestRepository_CreateAndGetGroup(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	group := createTestGroup(t, repo)
	if group.ID == "" {
		t.Fatal("expected generated group ID")
	}

	got, err := repo.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("failed to get group: %v", err)
	}
	if got.Name != "dev-team" {
		t.Errorf("expected name dev-team, got %s", got.Name)
	}
	if got.Config.MaxResponders != 5 {
		t.Errorf("expected default max_responders 5, got %d", got.Config.MaxResponders)
	}
	if got.Config.ChainDepthLimit != 5 {
		t.Errorf("expected default chain_depth_limit 5, got %d", got.Config.ChainDepthLimit)
	}
}

func TestRepository_GetGroupNotFound(t *testing.T) {
	repo := createTestRepository(t)

	_, err := repo.GetGroup(context.Background(), "missing")
	if !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("expected ErrGroupNotFound, got %v", err)
	}
}

func TestRepository_CreateGroupKeepsExplicitConfig(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	group := &models.Group{
		Name: "tuned",
		Config: models.GroupConfig{
			MaxResponders:          2,
			TurnTimeoutSeconds:     30,
			ChainDepthLimit:        1,
			ReInvokeAlreadyReplied: true,
		},
	}
	if err := repo.CreateGroup(ctx, group); err != nil {
		t.Fatalf("failed to create group: %v", err)
	}

	got, err := repo.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("failed to get group: %v", err)
	}
	if got.Config.MaxResponders != 2 {
		t.Errorf("expected max_responders 2, got %d", got.Config.MaxResponders)
	}
	if got.Config.TurnTimeoutSeconds != 30 {
		t.Errorf("expected turn_timeout_seconds 30, got %d", got.Config.TurnTimeoutSeconds)
	}
	if !got.Config.ReInvokeAlreadyReplied {
		t.Error("expected re_invoke_already_replied to stay true")
	}
	// Unset fields still get defaults.
	if got.Config.AutoSummaryInterval != 20 {
		t.Errorf("expected default auto_summary_interval 20, got %d", got.Config.AutoSummaryInterval)
	}
}

func TestRepository_ListGroups(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		group := &models.Group{Name: fmt.Sprintf("group-%d", i)}
		if err := repo.CreateGroup(ctx, group); err != nil {
			t.Fatalf("failed to create group %d: %v", i, err)
		}
	}

	groups, err := repo.ListGroups(ctx)
	if err != nil {
		t.Fatalf("failed to list groups: %v", err)
	}
	if len(groups) != 3 {
		t.Errorf("expected 3 groups, got %d", len(groups))
	}
}

func TestRepository_Members(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()
	group := createTestGroup(t, repo)

	base := time.Now().UTC()
	for i, agentID := range []string{"alice", "bob", "carol"} {
		member := &models.GroupMember{
			GroupID:     group.ID,
			AgentID:     agentID,
			DisplayName: agentID,
			JoinedAt:    base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.AddMember(ctx, member); err != nil {
			t.Fatalf("failed to add member %s: %v", agentID, err)
		}
	}

	members, err := repo.ListMembers(ctx, group.ID)
	if err != nil {
		t.Fatalf("failed to list members: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("expected 3 members, got %d", len(members))
	}
	// Join order is the quota selection order.
	for i, want := range []string{"alice", "bob", "carol"} {
		if members[i].AgentID != want {
			t.Errorf("member %d: expected %s, got %s", i, want, members[i].AgentID)
		}
	}
	if members[0].Type != models.MemberAgent {
		t.Errorf("expected default member type agent, got %s", members[0].Type)
	}

	if err := repo.RemoveMember(ctx, group.ID, members[1].ID); err != nil {
		t.Fatalf("failed to remove member: %v", err)
	}
	members, err = repo.ListMembers(ctx, group.ID)
	if err != nil {
		t.Fatalf("failed to list members: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("expected 2 members after removal, got %d", len(members))
	}

	if err := repo.RemoveMember(ctx, group.ID, "missing"); !errors.Is(err, ErrMemberNotFound) {
		t.Errorf("expected ErrMemberNotFound, got %v", err)
	}
}

func TestRepository_SaveAndGetMessages(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()
	group := createTestGroup(t, repo)

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 5; i++ {
		msg := &models.Message{
			GroupID:    group.ID,
			AuthorID:   "u1",
			AuthorType: models.AuthorHuman,
			AuthorName: "toni",
			Content:    fmt.Sprintf("message %d", i),
			Mentions:   []string{"alice"},
			Timestamp:  base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("failed to save message %d: %v", i, err)
		}
	}

	// Full read comes back in chronological order.
	all, err := repo.GetMessages(ctx, group.ID, ListMessagesOptions{})
	if err != nil {
		t.Fatalf("failed to get messages: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(all))
	}
	for i, msg := range all {
		if msg.Content != fmt.Sprintf("message %d", i) {
			t.Errorf("message %d out of order: %s", i, msg.Content)
		}
	}
	if len(all[0].Mentions) != 1 || all[0].Mentions[0] != "alice" {
		t.Errorf("expected mentions [alice], got %v", all[0].Mentions)
	}

	// Limit returns the newest window, still chronological.
	window, err := repo.GetMessages(ctx, group.ID, ListMessagesOptions{Limit: 2})
	if err != nil {
		t.Fatalf("failed to get limited messages: %v", err)
	}
	if len(window) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(window))
	}
	if window[0].Content != "message 3" || window[1].Content != "message 4" {
		t.Errorf("expected newest window [message 3, message 4], got [%s, %s]",
			window[0].Content, window[1].Content)
	}

	// Before excludes the boundary timestamp.
	cutoff := base.Add(3 * time.Second)
	older, err := repo.GetMessages(ctx, group.ID, ListMessagesOptions{Before: &cutoff})
	if err != nil {
		t.Fatalf("failed to get messages before cutoff: %v", err)
	}
	if len(older) != 3 {
		t.Fatalf("expected 3 messages before cutoff, got %d", len(older))
	}
	if older[len(older)-1].Content != "message 2" {
		t.Errorf("expected last older message to be message 2, got %s", older[len(older)-1].Content)
	}

	count, err := repo.CountMessages(ctx, group.ID)
	if err != nil {
		t.Fatalf("failed to count messages: %v", err)
	}
	if count != 5 {
		t.Errorf("expected count 5, got %d", count)
	}
}

func TestRepository_SearchMessages(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()
	group := createTestGroup(t, repo)

	base := time.Now().UTC().Truncate(time.Second)
	contents := []string{
		"deploy to staging",
		"lunch at 12",
		"rollback the deploy",
		"coverage is at 80%",
	}
	for i, content := range contents {
		msg := &models.Message{
			GroupID:    group.ID,
			AuthorID:   "u1",
			AuthorType: models.AuthorHuman,
			Content:    content,
			Timestamp:  base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("failed to save message: %v", err)
		}
	}

	matches, err := repo.SearchMessages(ctx, group.ID, "deploy", 0)
	if err != nil {
		t.Fatalf("failed to search messages: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	// Chronological order, like GetMessages.
	if matches[0].Content != "deploy to staging" || matches[1].Content != "rollback the deploy" {
		t.Errorf("unexpected match order: [%s, %s]", matches[0].Content, matches[1].Content)
	}

	// Limit keeps the newest matches.
	limited, err := repo.SearchMessages(ctx, group.ID, "deploy", 1)
	if err != nil {
		t.Fatalf("failed to search with limit: %v", err)
	}
	if len(limited) != 1 || limited[0].Content != "rollback the deploy" {
		t.Errorf("expected newest match only, got %v", limited)
	}

	// LIKE metacharacters are literal: "80%" must not match everything.
	escaped, err := repo.SearchMessages(ctx, group.ID, "80%", 0)
	if err != nil {
		t.Fatalf("failed to search with wildcard char: %v", err)
	}
	if len(escaped) != 1 || escaped[0].Content != "coverage is at 80%" {
		t.Errorf("expected single literal match, got %v", escaped)
	}

	none, err := repo.SearchMessages(ctx, group.ID, "standup", 0)
	if err != nil {
		t.Fatalf("failed to search: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no matches, got %d", len(none))
	}
}

func TestRepository_DeleteGroupCascades(t *testing.T) {
	repo := createTestRepository(t)
	ctx := context.Background()
	group := createTestGroup(t, repo)

	if err := repo.AddMember(ctx, &models.GroupMember{
		GroupID: group.ID, AgentID: "alice", DisplayName: "Alice",
	}); err != nil {
		t.Fatalf("failed to add member: %v", err)
	}
	if err := repo.SaveMessage(ctx, &models.Message{
		GroupID: group.ID, AuthorID: "u1", Content: "hello",
	}); err != nil {
		t.Fatalf("failed to save message: %v", err)
	}

	if err := repo.DeleteGroup(ctx, group.ID); err != nil {
		t.Fatalf("failed to delete group: %v", err)
	}

	if _, err := repo.GetGroup(ctx, group.ID); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("expected ErrGroupNotFound after delete, got %v", err)
	}
	members, err := repo.ListMembers(ctx, group.ID)
	if err != nil {
		t.Fatalf("failed to list members: %v", err)
	}
	if len(members) != 0 {
		t.Errorf("expected members to cascade, got %d", len(members))
	}
	messages, err := repo.GetMessages(ctx, group.ID, ListMessagesOptions{})
	if err != nil {
		t.Fatalf("failed to get messages: %v", err)
	}
	if len(messages) != 0 {
		t.Errorf("expected messages to cascade, got %d", len(messages))
	}

	if err := repo.DeleteGroup(ctx, group.ID); !errors.Is(err, ErrGroupNotFound) {
		t.Errorf("expected ErrGroupNotFound on double delete, got %v", err)
	}
}
