package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/utilpilot/utilization-service/internal/cache"
	"github.com/utilpilot/utilization-service/internal/config"
	"github.com/utilpilot/utilization-service/internal/integrations/plaid"
	"github.com/utilpilot/utilization-service/internal/middleware"
	"github.com/utilpilot/utilization-service/internal/models"
	"github.com/utilpilot/utilization-service/internal/utilization"
	"github.com/utilpilot/utilization-service/internal/utils/email"
)

type mockStore struct {
	users       map[int64]*models.User
	items       []models.Item
	accounts    []models.Account
	withOwners  []models.AccountWithOwner
	targetCalls int
	nextUserID  int64
	nextItemID  int64
	nextAcctID  int64
}

func newMockStore() *mockStore {
	return &mockStore{users: map[int64]*models.User{}}
}

func (m *mockStore) CreateUser(user *models.User) error {
	m.nextUserID++
	user.ID = m.nextUserID
	m.users[user.ID] = user
	return nil
}

func (m *mockStore) FindUserByEmail(emailAddr string) (*models.User, error) {
	for _, u := range m.users {
		if u.Email == emailAddr {
			return u, nil
		}
	}
	return nil, errors.New("user not found")
}

func (m *mockStore) FindUserByID(id int64) (*models.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, errors.New("user not found")
}

func (m *mockStore) CreateItem(item *models.Item) error {
	m.nextItemID++
	item.ID = m.nextItemID
	m.items = append(m.items, *item)
	return nil
}

func (m *mockStore) ListItemsByUser(userID int64) ([]models.Item, error) {
	var out []models.Item
	for _, item := range m.items {
		if item.UserID == userID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *mockStore) FindItemByPlaidID(plaidItemID string) (*models.Item, error) {
	for i := range m.items {
		if m.items[i].PlaidItemID == plaidItemID {
			return &m.items[i], nil
		}
	}
	return nil, errors.New("item not found")
}

func (m *mockStore) UpsertAccount(account *models.Account) error {
	for i := range m.accounts {
		if m.accounts[i].UserID == account.UserID && m.accounts[i].ExternalID == account.ExternalID {
			account.ID = m.accounts[i].ID
			account.TargetUtilization = m.accounts[i].TargetUtilization
			m.accounts[i] = *account
			return nil
		}
	}
	m.nextAcctID++
	account.ID = m.nextAcctID
	m.accounts = append(m.accounts, *account)
	return nil
}

func (m *mockStore) ListAccountsByUser(userID int64) ([]models.Account, error) {
	var out []models.Account
	for _, a := range m.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *mockStore) UpdateAccountTarget(userID, accountID int64, target float64) error {
	m.targetCalls++
	for i := range m.accounts {
		if m.accounts[i].ID == accountID && m.accounts[i].UserID == userID {
			m.accounts[i].TargetUtilization = target
			return nil
		}
	}
	return errors.New("account not found")
}

func (m *mockStore) ListAccountsWithOwners() ([]models.AccountWithOwner, error) {
	return m.withOwners, nil
}

type mockPlaid struct {
	linkToken string
	accounts  []plaid.CreditAccount
	exchanged string
}

func (m *mockPlaid) CreateLinkToken(userID string) (string, error) {
	return m.linkToken, nil
}

func (m *mockPlaid) ExchangePublicToken(publicToken string) (string, string, error) {
	m.exchanged = publicToken
	return "access-sandbox-token", "item-123", nil
}

func (m *mockPlaid) GetCreditAccounts(accessToken string) ([]plaid.CreditAccount, error) {
	if accessToken != "access-sandbox-token" {
		return nil, fmt.Errorf("unexpected access token %q", accessToken)
	}
	return m.accounts, nil
}

type mockMailer struct {
	sent []string // recipient emails
	fail bool
}

func (m *mockMailer) SendUtilizationAlert(to, username string, cards []email.AlertCard) error {
	if m.fail {
		return errors.New("smtp unavailable")
	}
	m.sent = append(m.sent, to)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:     "test-secret",
		EncryptionKey: "0123456789abcdef",
		HMACSecret:    "hmac-secret",
	}
}

func testService(store *mockStore, p *mockPlaid, mailer *mockMailer) *Service {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewService(store, p, cache.NewMemory(), mailer, log, testConfig())
}

func authedCtx(userID int64) context.Context {
	return context.WithValue(context.Background(), middleware.UserIDKey, fmt.Sprintf("%d", userID))
}

func TestRegisterAndLogin(t *testing.T) {
	store := newMockStore()
	svc := testService(store, &mockPlaid{}, &mockMailer{})

	user, err := svc.Register("carol", "carol@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.ID == 0 {
		t.Fatal("expected user ID to be assigned")
	}
	if user.PasswordHash == "hunter2hunter2" {
		t.Fatal("password stored in plaintext")
	}

	token, err := svc.Login("carol@example.com", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token == "" {
		t.Fatal("expected a token")
	}

	if _, err := svc.Login("carol@example.com", "wrong"); err == nil {
		t.Fatal("expected error for wrong password")
	}
	if _, err := svc.Login("nobody@example.com", "hunter2hunter2"); err == nil {
		t.Fatal("expected error for unknown user")
	}
}

func TestDashboardEmptyState(t *testing.T) {
	svc := testService(newMockStore(), &mockPlaid{}, &mockMailer{})

	d, err := svc.Dashboard(authedCtx(1))
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if d.CreditCards == nil || len(d.CreditCards) != 0 {
		t.Errorf("creditCards should be an empty list, got %#v", d.CreditCards)
	}
	if d.Recommendations == nil || len(d.Recommendations) != 0 {
		t.Errorf("recommendations should be an empty list, got %#v", d.Recommendations)
	}
	if d.OverallUtilization != 0 || d.TotalLimit != 0 || d.TotalBalance != 0 {
		t.Errorf("totals should be zero: %+v", d)
	}
	if d.Summary.OverallBand != utilization.Excellent {
		t.Errorf("empty dashboard band = %q, want excellent", d.Summary.OverallBand)
	}
}

func TestDashboardAggregation(t *testing.T) {
	store := newMockStore()
	store.accounts = []models.Account{
		{ID: 1, UserID: 1, Name: "Sapphire", Balance: 1000, Limit: 2000, TargetUtilization: 0.09},
		{ID: 2, UserID: 1, Name: "Freedom", Balance: 100, Limit: 2000, TargetUtilization: 0.09},
		{ID: 3, UserID: 2, Name: "Other user's card", Balance: 999, Limit: 1000, TargetUtilization: 0.09},
	}
	svc := testService(store, &mockPlaid{}, &mockMailer{})

	d, err := svc.Dashboard(authedCtx(1))
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}

	if len(d.CreditCards) != 2 {
		t.Fatalf("expected 2 cards, got %d", len(d.CreditCards))
	}
	if d.TotalBalance != 1100 || d.TotalLimit != 4000 {
		t.Errorf("totals = %v/%v, want 1100/4000", d.TotalBalance, d.TotalLimit)
	}
	// 1100/4000 = 27.5% -> 28
	if d.OverallUtilization != 28 {
		t.Errorf("overall utilization = %d, want 28", d.OverallUtilization)
	}
	if d.Summary.OverallBand != utilization.Good {
		t.Errorf("overall band = %q, want good", d.Summary.OverallBand)
	}

	sapphire := d.CreditCards[0]
	if sapphire.Utilization != 50 || sapphire.Band != utilization.Bad {
		t.Errorf("sapphire = %d%%/%q, want 50%%/bad", sapphire.Utilization, sapphire.Band)
	}
	if sapphire.PaydownToTarget != 820 {
		t.Errorf("sapphire paydown = %v, want 820", sapphire.PaydownToTarget)
	}

	// Only the over-target card gets a recommendation
	if len(d.Recommendations) != 1 || d.Recommendations[0].AccountID != 1 {
		t.Fatalf("unexpected recommendations: %+v", d.Recommendations)
	}
	if d.Summary.CardsOverTarget != 1 || d.Summary.TotalPaydown != 820 {
		t.Errorf("summary = %+v, want 1 card over target, 820 total paydown", d.Summary)
	}
}

func TestDashboardCached(t *testing.T) {
	store := newMockStore()
	store.accounts = []models.Account{
		{ID: 1, UserID: 1, Name: "Card", Balance: 500, Limit: 1000, TargetUtilization: 0.30},
	}
	svc := testService(store, &mockPlaid{}, &mockMailer{})
	ctx := authedCtx(1)

	first, err := svc.Dashboard(ctx)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}

	// Mutate the store behind the cache; the cached view should win.
	store.accounts[0].Balance = 900
	second, err := svc.Dashboard(ctx)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if second.TotalBalance != first.TotalBalance {
		t.Errorf("expected cached dashboard, got balance %v", second.TotalBalance)
	}

	// Target updates invalidate the cache.
	if err := svc.UpdateTarget(ctx, 1, 0.09); err != nil {
		t.Fatalf("UpdateTarget: %v", err)
	}
	third, err := svc.Dashboard(ctx)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if third.TotalBalance != 900 {
		t.Errorf("expected rebuilt dashboard with balance 900, got %v", third.TotalBalance)
	}
}

func TestUpdateTargetValidation(t *testing.T) {
	store := newMockStore()
	svc := testService(store, &mockPlaid{}, &mockMailer{})
	ctx := authedCtx(1)

	for _, target := range []float64{0, -0.1, 1.5} {
		if err := svc.UpdateTarget(ctx, 1, target); err == nil {
			t.Errorf("expected error for target %v", target)
		}
	}
	if store.targetCalls != 0 {
		t.Errorf("repository should not be called for invalid targets, got %d calls", store.targetCalls)
	}
}

func TestExchangeTokenStoresEncryptedItem(t *testing.T) {
	store := newMockStore()
	p := &mockPlaid{accounts: []plaid.CreditAccount{
		{AccountID: "acc-1", Name: "Visa", Mask: "4242", Balance: 350, Limit: 1000},
	}}
	svc := testService(store, p, &mockMailer{})

	if err := svc.ExchangeToken(authedCtx(7), "public-sandbox-abc", "Test Bank"); err != nil {
		t.Fatalf("ExchangeToken: %v", err)
	}

	if p.exchanged != "public-sandbox-abc" {
		t.Errorf("exchanged token = %q", p.exchanged)
	}
	if len(store.items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(store.items))
	}
	item := store.items[0]
	if item.UserID != 7 || item.PlaidItemID != "item-123" {
		t.Errorf("unexpected item: %+v", item)
	}
	if item.AccessToken == "access-sandbox-token" {
		t.Error("access token stored in plaintext")
	}

	// The item's accounts were pulled immediately
	accounts, _ := store.ListAccountsByUser(7)
	if len(accounts) != 1 || accounts[0].ExternalID != "acc-1" {
		t.Fatalf("expected pulled account, got %+v", accounts)
	}
	if accounts[0].TargetUtilization != DefaultTargetUtilization {
		t.Errorf("new account target = %v, want %v", accounts[0].TargetUtilization, DefaultTargetUtilization)
	}
}

func TestRefreshAccountsPreservesTargets(t *testing.T) {
	store := newMockStore()
	p := &mockPlaid{accounts: []plaid.CreditAccount{
		{AccountID: "acc-1", Name: "Visa", Balance: 200, Limit: 1000},
	}}
	svc := testService(store, p, &mockMailer{})
	ctx := authedCtx(7)

	if err := svc.ExchangeToken(ctx, "public-sandbox-abc", "Test Bank"); err != nil {
		t.Fatalf("ExchangeToken: %v", err)
	}
	if err := svc.UpdateTarget(ctx, 1, 0.09); err != nil {
		t.Fatalf("UpdateTarget: %v", err)
	}

	p.accounts[0].Balance = 650
	n, err := svc.RefreshAccounts(ctx)
	if err != nil {
		t.Fatalf("RefreshAccounts: %v", err)
	}
	if n != 1 {
		t.Errorf("refreshed = %d, want 1", n)
	}

	accounts, _ := store.ListAccountsByUser(7)
	if accounts[0].Balance != 650 {
		t.Errorf("balance = %v, want 650", accounts[0].Balance)
	}
	if accounts[0].TargetUtilization != 0.09 {
		t.Errorf("target lost on refresh: %v", accounts[0].TargetUtilization)
	}
}

func TestHandleWebhookRefreshesItem(t *testing.T) {
	store := newMockStore()
	p := &mockPlaid{accounts: []plaid.CreditAccount{
		{AccountID: "acc-1", Name: "Visa", Balance: 100, Limit: 1000},
	}}
	svc := testService(store, p, &mockMailer{})

	if err := svc.ExchangeToken(authedCtx(7), "public-sandbox-abc", "Test Bank"); err != nil {
		t.Fatalf("ExchangeToken: %v", err)
	}

	p.accounts[0].Balance = 480
	payload := WebhookPayload{WebhookType: "LIABILITIES", WebhookCode: "DEFAULT_UPDATE", ItemID: "item-123"}
	if err := svc.HandleWebhook(context.Background(), payload); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}

	accounts, _ := store.ListAccountsByUser(7)
	if accounts[0].Balance != 480 {
		t.Errorf("balance = %v, want 480", accounts[0].Balance)
	}

	// Unrelated webhook types are acknowledged without touching Plaid
	other := WebhookPayload{WebhookType: "ITEM", WebhookCode: "ERROR", ItemID: "item-123"}
	if err := svc.HandleWebhook(context.Background(), other); err != nil {
		t.Errorf("unexpected error for ignored webhook: %v", err)
	}
}

func TestImportStatement(t *testing.T) {
	store := newMockStore()
	svc := testService(store, &mockPlaid{}, &mockMailer{})

	doc := `<?xml version="1.0" encoding="UTF-8"?>
<OFX>
  <CREDITCARDMSGSRSV1>
    <CCSTMTTRNRS>
      <CCSTMTRS>
        <CURDEF>USD</CURDEF>
        <CCACCTFROM><ACCTID>5500005555554444</ACCTID></CCACCTFROM>
        <LEDGERBAL><BALAMT>-850.00</BALAMT><DTASOF>20260801</DTASOF></LEDGERBAL>
        <AVAILBAL><BALAMT>1150.00</BALAMT><DTASOF>20260801</DTASOF></AVAILBAL>
      </CCSTMTRS>
    </CCSTMTTRNRS>
  </CREDITCARDMSGSRSV1>
</OFX>`

	account, err := svc.ImportStatement(authedCtx(3), "Store card", []byte(doc))
	if err != nil {
		t.Fatalf("ImportStatement: %v", err)
	}
	if account.Balance != 850 || account.Limit != 2000 {
		t.Errorf("account = %v/%v, want 850/2000", account.Balance, account.Limit)
	}
	if account.Source != models.SourceManual {
		t.Errorf("source = %q, want manual", account.Source)
	}
	if account.Mask != "4444" {
		t.Errorf("mask = %q, want 4444", account.Mask)
	}

	if _, err := svc.ImportStatement(authedCtx(3), "", []byte("not ofx")); err == nil {
		t.Error("expected error for malformed statement")
	}
}

func TestAlertSweep(t *testing.T) {
	store := newMockStore()
	store.withOwners = []models.AccountWithOwner{
		{Account: models.Account{ID: 1, UserID: 1, Name: "Maxed", Balance: 950, Limit: 1000, TargetUtilization: 0.30},
			OwnerEmail: "a@example.com", OwnerUsername: "a"},
		{Account: models.Account{ID: 2, UserID: 1, Name: "Heavy", Balance: 600, Limit: 1000, TargetUtilization: 0.30},
			OwnerEmail: "a@example.com", OwnerUsername: "a"},
		{Account: models.Account{ID: 3, UserID: 2, Name: "Fine", Balance: 100, Limit: 1000, TargetUtilization: 0.30},
			OwnerEmail: "b@example.com", OwnerUsername: "b"},
	}
	mailer := &mockMailer{}
	svc := testService(store, &mockPlaid{}, mailer)

	sent, err := svc.AlertSweep()
	if err != nil {
		t.Fatalf("AlertSweep: %v", err)
	}
	// One email covering both of user 1's cards; user 2 is under threshold.
	if sent != 1 {
		t.Errorf("sent = %d, want 1", sent)
	}
	if len(mailer.sent) != 1 || mailer.sent[0] != "a@example.com" {
		t.Errorf("recipients = %v", mailer.sent)
	}
}

func TestAlertSweepContinuesOnSendFailure(t *testing.T) {
	store := newMockStore()
	store.withOwners = []models.AccountWithOwner{
		{Account: models.Account{ID: 1, UserID: 1, Name: "Maxed", Balance: 950, Limit: 1000, TargetUtilization: 0.30},
			OwnerEmail: "a@example.com", OwnerUsername: "a"},
	}
	mailer := &mockMailer{fail: true}
	svc := testService(store, &mockPlaid{}, mailer)

	sent, err := svc.AlertSweep()
	if err != nil {
		t.Fatalf("AlertSweep should not fail on send errors: %v", err)
	}
	if sent != 0 {
		t.Errorf("sent = %d, want 0", sent)
	}
}

func TestUserIDRequired(t *testing.T) {
	svc := testService(newMockStore(), &mockPlaid{}, &mockMailer{})
	ctx := context.Background()

	if _, err := svc.Dashboard(ctx); err == nil || !strings.Contains(err.Error(), "user ID") {
		t.Errorf("expected user ID error, got %v", err)
	}
	if _, err := svc.Accounts(ctx); err == nil {
		t.Error("expected error without user ID")
	}
	if err := svc.UpdateTarget(ctx, 1, 0.09); err == nil {
		t.Error("expected error without user ID")
	}
}
