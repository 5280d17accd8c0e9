package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestService_RegisterAndLogin(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Email:     "alice@example.com",
		Password:  "supersafe",
		FullName:  "Alice Carrier",
		CarrierID: "carrier-1",
	}

	ctx := context.Background()
	account, err := svc.Register(ctx, req)
	if err != nil {
		t.Fatalf("register: unexpected error: %v", err)
	}

	if account.Email != req.Email {
		t.Fatalf("expected email %q got %q", req.Email, account.Email)
	}
	if account.Role != RoleCarrier {
		t.Fatalf("register: expected default role %s got %s", RoleCarrier, account.Role)
	}
	if account.CarrierID == nil || *account.CarrierID != req.CarrierID {
		t.Fatalf("register: expected carrier id %q got %v", req.CarrierID, account.CarrierID)
	}

	resp, err := svc.Login(ctx, LoginRequest{Email: req.Email, Password: req.Password})
	if err != nil {
		t.Fatalf("login: unexpected error: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("login: expected token, got empty string")
	}
	if resp.Account.ID != account.ID {
		t.Fatalf("login: expected account id %q got %q", account.ID, resp.Account.ID)
	}
	if resp.Account.Role != RoleCarrier {
		t.Fatalf("login: expected role %s got %s", RoleCarrier, resp.Account.Role)
	}

	session, err := svc.VerifyToken(resp.Token)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if session.AccountID != account.ID {
		t.Fatalf("verify token: expected %q got %q", account.ID, session.AccountID)
	}
	if session.Role != RoleCarrier {
		t.Fatalf("verify token: expected role %s got %s", RoleCarrier, session.Role)
	}
	if session.CarrierID == nil || *session.CarrierID != req.CarrierID {
		t.Fatalf("verify token: expected carrier id %q got %v", req.CarrierID, session.CarrierID)
	}
}

func TestService_RegisterValidation(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Register(context.Background(), RegisterRequest{
		Email:     "alice@example.com",
		Password:  "short",
		FullName:  "Alice Carrier",
		CarrierID: "carrier-1",
	})
	if !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "",
		Password: "strongpassword",
		FullName: "",
	}); err == nil {
		t.Fatal("expected validation error for missing fields")
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "bob@example.com",
		Password: "strongpassword",
		FullName: "Bob Carrier",
		Role:     RoleCarrier,
	}); err == nil {
		t.Fatal("expected validation error for carrier account without carrier_id")
	}

	if _, err := svc.Register(context.Background(), RegisterRequest{
		Email:     "ops@example.com",
		Password:  "strongpassword",
		FullName:  "Olga Ops",
		CarrierID: "carrier-1",
		Role:      RoleDispatcher,
	}); err == nil {
		t.Fatal("expected validation error for dispatcher account with carrier_id")
	}
}

func TestService_RegisterDispatcher(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	account, err := svc.Register(context.Background(), RegisterRequest{
		Email:    "ops@example.com",
		Password: "strongpassword",
		FullName: "Olga Ops",
		Role:     RoleDispatcher,
	})
	if err != nil {
		t.Fatalf("register dispatcher: %v", err)
	}
	if account.Role != RoleDispatcher {
		t.Fatalf("expected role %s got %s", RoleDispatcher, account.Role)
	}
	if account.CarrierID != nil {
		t.Fatalf("expected nil carrier id, got %v", *account.CarrierID)
	}
}

func TestService_DuplicateEmail(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	req := RegisterRequest{
		Email:     "alice@example.com",
		Password:  "strongpassword",
		FullName:  "Alice Carrier",
		CarrierID: "carrier-1",
	}
	if _, err := svc.Register(context.Background(), req); err != nil {
		t.Fatalf("first register failed: %v", err)
	}

	if _, err := svc.Register(context.Background(), req); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestService_LoginInvalidCredentials(t *testing.T) {
	repo := newFakeRepository()
	svc := NewService(repo, "test-secret")

	_, err := svc.Login(context.Background(), LoginRequest{
		Email:    "unknown@example.com",
		Password: "irrelevant",
	})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

type fakeRepository struct {
	accountsByEmail map[string]Account
	accountsByID    map[string]Account
	nextID          int
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		accountsByEmail: make(map[string]Account),
		accountsByID:    make(map[string]Account),
		nextID:          1,
	}
}

func (f *fakeRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (Account, error) {
	if _, exists := f.accountsByEmail[strings.ToLower(params.Email)]; exists {
		return Account{}, ErrDuplicateEmail
	}

	id := fmt.Sprintf("account-%d", f.nextID)
	f.nextID++
	role := params.Role
	if role == "" {
		role = RoleCarrier
	}

	account := Account{
		ID:           id,
		Email:        params.Email,
		FullName:     params.FullName,
		PasswordHash: params.PasswordHash,
		CarrierID:    params.CarrierID,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	f.accountsByEmail[strings.ToLower(account.Email)] = account
	f.accountsByID[account.ID] = account

	return account, nil
}

func (f *fakeRepository) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	account, ok := f.accountsByEmail[strings.ToLower(email)]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (f *fakeRepository) GetAccountByID(ctx context.Context, accountID string) (Account, error) {
	account, ok := f.accountsByID[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}
