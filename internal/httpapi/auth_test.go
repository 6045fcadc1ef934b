package httpapi

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/tar002a/boutique-app-v2/internal/domain"
	"github.com/tar002a/boutique-app-v2/internal/store/memory"
)

func TestLoginAndParseTokenRoundTrip(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	resp, err := auth.Login(domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.Role != "admin" {
		t.Fatalf("expected role admin, got %s", resp.Role)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token failed: %v", err)
	}
	if actor.Username != "admin" || actor.Role != "admin" {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestParseTokenRejectsTampered(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	resp, err := auth.Login(domain.LoginRequest{Username: "cashier", Password: "cashier123"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	tampered := resp.AccessToken[:len(resp.AccessToken)-2] + "xx"
	if _, err := auth.ParseToken(tampered); err == nil {
		t.Fatalf("expected tampered token to be rejected")
	}

	other := NewAuthManager("different-secret", time.Hour, repo)
	if _, err := other.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestCreateStaffValidation(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	cases := []domain.StaffCreateRequest{
		{Username: "ab", Password: "longenough"},
		{Username: "has space", Password: "longenough"},
		{Username: "valid-user", Password: "short"},
		{Username: "cashier", Password: "longenough"}, // already seeded
	}
	for _, req := range cases {
		if _, err := auth.CreateStaff(req); err == nil {
			t.Fatalf("expected create to fail for %+v", req)
		}
	}

	staff, err := auth.CreateStaff(domain.StaffCreateRequest{Username: "Noor2026", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("create staff failed: %v", err)
	}
	if staff.Username != "noor2026" || staff.Role != "cashier" {
		t.Fatalf("unexpected staff account: %+v", staff)
	}

	if _, err := auth.Login(domain.LoginRequest{Username: "noor2026", Password: "s3cret-pass"}); err != nil {
		t.Fatalf("new staff login failed: %v", err)
	}
}

func TestBootstrapUpgradesPlainTextPasswords(t *testing.T) {
	repo := memory.New()
	err := repo.CreateUser(context.Background(), domain.UserAccount{
		Username:  "legacy",
		Password:  "plaintext-pass",
		Role:      "cashier",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed user failed: %v", err)
	}

	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	if _, err := auth.Login(domain.LoginRequest{Username: "legacy", Password: "plaintext-pass"}); err != nil {
		t.Fatalf("legacy login failed: %v", err)
	}

	users, err := repo.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 || !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected stored password upgraded to bcrypt hash, got %q", users[0].Password)
	}
}
