package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/echochat/echochat-server/internal/friend"
)

// fakeFriendRepo implements friend.Repository for handler tests.
type fakeFriendRepo struct {
	friends  map[uuid.UUID][]friend.Friend
	incoming map[uuid.UUID][]friend.Request
}

func newFakeFriendRepo() *fakeFriendRepo {
	return &fakeFriendRepo{
		friends:  make(map[uuid.UUID][]friend.Friend),
		incoming: make(map[uuid.UUID][]friend.Request),
	}
}

func (r *fakeFriendRepo) CreateRequest(context.Context, uuid.UUID, uuid.UUID) (*friend.Request, error) {
	return nil, nil
}
func (r *fakeFriendRepo) GetPendingRequest(context.Context, uuid.UUID, uuid.UUID) (*friend.Request, error) {
	return nil, friend.ErrRequestNotFound
}
func (r *fakeFriendRepo) Respond(context.Context, uuid.UUID, bool) (*friend.Request, error) {
	return nil, friend.ErrRequestNotFound
}

func (r *fakeFriendRepo) ListIncomingRequests(_ context.Context, recipientID uuid.UUID) ([]friend.Request, error) {
	return r.incoming[recipientID], nil
}

func (r *fakeFriendRepo) AreFriends(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}

func (r *fakeFriendRepo) ListFriends(_ context.Context, userID uuid.UUID) ([]friend.Friend, error) {
	return r.friends[userID], nil
}

func (r *fakeFriendRepo) RemoveFriend(context.Context, uuid.UUID, uuid.UUID) error { return nil }
func (r *fakeFriendRepo) Block(context.Context, uuid.UUID, uuid.UUID) error        { return nil }
func (r *fakeFriendRepo) Unblock(context.Context, uuid.UUID, uuid.UUID) error      { return nil }
func (r *fakeFriendRepo) IsBlocked(context.Context, uuid.UUID, uuid.UUID) (bool, error) {
	return false, nil
}

func testFriendApp(userID uuid.UUID, repo friend.Repository) *fiber.App {
	handler := NewFriendHandler(repo, zerolog.Nop())
	app := fiber.New()
	app.Use(fakeAuth(userID))
	app.Get("/friends", handler.List)
	app.Get("/friends/requests", handler.IncomingRequests)
	return app
}

func TestFriendList_Unauthenticated(t *testing.T) {
	t.Parallel()
	app := testFriendApp(uuid.Nil, newFakeFriendRepo())

	resp := doReq(t, app, jsonReq(http.MethodGet, "/friends", ""))
	if resp.StatusCode != fiber.StatusUnauthorized {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusUnauthorized)
	}
}

func TestFriendList_Success(t *testing.T) {
	t.Parallel()
	repo := newFakeFriendRepo()
	userID := uuid.New()
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.friends[userID] = []friend.Friend{{UserID: uuid.New(), Username: "ana", Since: since}}

	app := testFriendApp(userID, repo)
	resp := doReq(t, app, jsonReq(http.MethodGet, "/friends", ""))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	env := parseSuccess(t, body)
	var entries []friendEntry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatalf("unmarshal friends: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d friends, want 1", len(entries))
	}
	if entries[0].Username != "ana" {
		t.Errorf("username = %q, want %q", entries[0].Username, "ana")
	}
	if entries[0].Since != since.Unix() {
		t.Errorf("since = %d, want %d", entries[0].Since, since.Unix())
	}
}

func TestFriendIncomingRequests_Empty(t *testing.T) {
	t.Parallel()
	userID := uuid.New()
	app := testFriendApp(userID, newFakeFriendRepo())

	resp := doReq(t, app, jsonReq(http.MethodGet, "/friends/requests", ""))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	env := parseSuccess(t, body)
	var entries []incomingRequestEntry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatalf("unmarshal requests: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("got %d requests, want 0", len(entries))
	}
}

func TestFriendIncomingRequests_Success(t *testing.T) {
	t.Parallel()
	repo := newFakeFriendRepo()
	userID := uuid.New()
	reqID := uuid.New()
	createdAt := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	repo.incoming[userID] = []friend.Request{{ID: reqID, RequesterID: uuid.New(), RecipientID: userID, Status: friend.StatusPending, CreatedAt: createdAt}}

	app := testFriendApp(userID, repo)
	resp := doReq(t, app, jsonReq(http.MethodGet, "/friends/requests", ""))
	body := readBody(t, resp)
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, fiber.StatusOK)
	}
	env := parseSuccess(t, body)
	var entries []incomingRequestEntry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		t.Fatalf("unmarshal requests: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d requests, want 1", len(entries))
	}
	if entries[0].RequestID != reqID.String() {
		t.Errorf("request_id = %q, want %q", entries[0].RequestID, reqID.String())
	}
}
