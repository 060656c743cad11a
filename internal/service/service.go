package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/utilpilot/utilization-service/internal/cache"
	"github.com/utilpilot/utilization-service/internal/config"
	"github.com/utilpilot/utilization-service/internal/integrations/ofx"
	"github.com/utilpilot/utilization-service/internal/integrations/plaid"
	"github.com/utilpilot/utilization-service/internal/middleware"
	"github.com/utilpilot/utilization-service/internal/models"
	"github.com/utilpilot/utilization-service/internal/utilization"
	"github.com/utilpilot/utilization-service/internal/utils"
	"github.com/utilpilot/utilization-service/internal/utils/email"
)

// DefaultTargetUtilization is the paydown goal assigned to newly
// discovered accounts until the user sets their own.
const DefaultTargetUtilization = 0.30

const dashboardCacheTTL = 60 * time.Second

// Store is the repository surface the service depends on.
type Store interface {
	CreateUser(user *models.User) error
	FindUserByEmail(email string) (*models.User, error)
	FindUserByID(id int64) (*models.User, error)
	CreateItem(item *models.Item) error
	ListItemsByUser(userID int64) ([]models.Item, error)
	FindItemByPlaidID(plaidItemID string) (*models.Item, error)
	UpsertAccount(account *models.Account) error
	ListAccountsByUser(userID int64) ([]models.Account, error)
	UpdateAccountTarget(userID, accountID int64, target float64) error
	ListAccountsWithOwners() ([]models.AccountWithOwner, error)
}

// PlaidAPI is the Plaid client surface the service depends on.
type PlaidAPI interface {
	CreateLinkToken(userID string) (string, error)
	ExchangePublicToken(publicToken string) (accessToken, itemID string, err error)
	GetCreditAccounts(accessToken string) ([]plaid.CreditAccount, error)
}

// Mailer sends utilization alerts.
type Mailer interface {
	SendUtilizationAlert(to, username string, cards []email.AlertCard) error
}

// Service handles business logic
type Service struct {
	repo   Store
	plaid  PlaidAPI
	cache  cache.Cache
	mailer Mailer
	log    *logrus.Logger
	config *config.Config
}

// NewService initializes a new service
func NewService(repo Store, plaidClient PlaidAPI, c cache.Cache, mailer Mailer, log *logrus.Logger, cfg *config.Config) *Service {
	return &Service{repo: repo, plaid: plaidClient, cache: c, mailer: mailer, log: log, config: cfg}
}

// Register creates a new user with hashed password
func (s *Service) Register(username, emailAddr, password string) (*models.User, error) {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		Username:     username,
		Email:        emailAddr,
		PasswordHash: string(hashedPassword),
	}

	if err := s.repo.CreateUser(user); err != nil {
		return nil, err
	}

	s.log.Infof("User registered: %s", user.Email)
	return user, nil
}

// Login authenticates a user and returns a JWT token
func (s *Service) Login(emailAddr, password string) (string, error) {
	user, err := s.repo.FindUserByEmail(emailAddr)
	if err != nil {
		return "", fmt.Errorf("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", fmt.Errorf("invalid credentials")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   fmt.Sprintf("%d", user.ID),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
	})
	tokenString, err := token.SignedString([]byte(s.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	s.log.Infof("User logged in: %s", user.Email)
	return tokenString, nil
}

// Profile returns the authenticated user
func (s *Service) Profile(ctx context.Context) (*models.User, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.FindUserByID(userID)
}

// CreateLinkToken creates a Plaid Link token for the authenticated user
func (s *Service) CreateLinkToken(ctx context.Context) (string, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return "", err
	}
	return s.plaid.CreateLinkToken(strconv.FormatInt(userID, 10))
}

// ExchangeToken exchanges a Link public token, stores the resulting
// item with its access token encrypted, and pulls the item's credit
// accounts.
func (s *Service) ExchangeToken(ctx context.Context, publicToken, institution string) error {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return err
	}
	if publicToken == "" {
		return fmt.Errorf("public_token is required")
	}

	accessToken, plaidItemID, err := s.plaid.ExchangePublicToken(publicToken)
	if err != nil {
		return fmt.Errorf("failed to exchange token: %w", err)
	}

	encryptedToken, err := utils.Encrypt(accessToken, s.config.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}

	item := &models.Item{
		UserID:      userID,
		PlaidItemID: plaidItemID,
		AccessToken: encryptedToken,
		Institution: institution,
	}
	if err := s.repo.CreateItem(item); err != nil {
		return err
	}

	if _, err := s.refreshItem(item); err != nil {
		return err
	}

	s.invalidateDashboard(ctx, userID)
	s.log.Infof("Linked item %s for user %d", plaidItemID, userID)
	return nil
}

// RefreshAccounts re-pulls credit accounts for all of the user's items
// and returns the number of accounts updated.
func (s *Service) RefreshAccounts(ctx context.Context) (int, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return 0, err
	}

	items, err := s.repo.ListItemsByUser(userID)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for i := range items {
		n, err := s.refreshItem(&items[i])
		if err != nil {
			return refreshed, err
		}
		refreshed += n
	}

	s.invalidateDashboard(ctx, userID)
	s.log.Infof("Refreshed %d accounts for user %d", refreshed, userID)
	return refreshed, nil
}

// refreshItem pulls the item's credit accounts from Plaid and upserts them
func (s *Service) refreshItem(item *models.Item) (int, error) {
	accessToken, err := utils.Decrypt(item.AccessToken, s.config.EncryptionKey)
	if err != nil {
		return 0, fmt.Errorf("failed to decrypt access token: %w", err)
	}

	creditAccounts, err := s.plaid.GetCreditAccounts(accessToken)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch accounts: %w", err)
	}

	for _, ca := range creditAccounts {
		account := &models.Account{
			UserID:            item.UserID,
			ItemID:            item.ID,
			ExternalID:        ca.AccountID,
			Source:            models.SourcePlaid,
			Name:              ca.Name,
			Mask:              ca.Mask,
			Balance:           ca.Balance,
			Limit:             ca.Limit,
			TargetUtilization: DefaultTargetUtilization,
		}
		if err := s.repo.UpsertAccount(account); err != nil {
			return 0, err
		}
	}
	return len(creditAccounts), nil
}

// Accounts lists the authenticated user's credit accounts
func (s *Service) Accounts(ctx context.Context) ([]models.Account, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	accounts, err := s.repo.ListAccountsByUser(userID)
	if err != nil {
		return nil, err
	}
	if accounts == nil {
		accounts = []models.Account{}
	}
	return accounts, nil
}

// Dashboard aggregates the user's accounts into the dashboard view.
// Results are cached briefly since the underlying balances only change
// on refresh.
func (s *Service) Dashboard(ctx context.Context) (*models.Dashboard, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	key := dashboardKey(userID)
	if cached, ok := s.cache.Get(ctx, key); ok {
		dashboard := &models.Dashboard{}
		if err := json.Unmarshal([]byte(cached), dashboard); err == nil {
			return dashboard, nil
		}
		// Unreadable cache entry, rebuild
		s.cache.Delete(ctx, key)
	}

	accounts, err := s.repo.ListAccountsByUser(userID)
	if err != nil {
		return nil, err
	}

	dashboard := buildDashboard(accounts)

	if payload, err := json.Marshal(dashboard); err == nil {
		if err := s.cache.Set(ctx, key, string(payload), dashboardCacheTTL); err != nil {
			s.log.Warnf("Failed to cache dashboard for user %d: %v", userID, err)
		}
	}
	return dashboard, nil
}

// buildDashboard derives every card's utilization figures and the
// overall roll-up from the raw account snapshots.
func buildDashboard(accounts []models.Account) *models.Dashboard {
	dashboard := &models.Dashboard{
		CreditCards:     []models.CreditCard{},
		Recommendations: []models.Recommendation{},
	}

	for _, a := range accounts {
		percent := utilization.Percent(a.Balance, a.Limit)
		paydown := utilization.Paydown(a.Balance, a.Limit, a.TargetUtilization)

		card := models.CreditCard{
			AccountID:         a.ID,
			Name:              a.Name,
			Mask:              a.Mask,
			Balance:           a.Balance,
			Limit:             a.Limit,
			Utilization:       percent,
			Band:              utilization.Classify(percent),
			TargetUtilization: a.TargetUtilization,
			PaydownToTarget:   paydown,
		}
		dashboard.CreditCards = append(dashboard.CreditCards, card)

		dashboard.TotalBalance += a.Balance
		dashboard.TotalLimit += a.Limit

		if paydown > 0 {
			dashboard.Summary.CardsOverTarget++
			dashboard.Summary.TotalPaydown += paydown
			dashboard.Recommendations = append(dashboard.Recommendations, models.Recommendation{
				AccountID: a.ID,
				Name:      a.Name,
				Message: fmt.Sprintf("Pay down $%.0f on %s to reach your %.0f%% target",
					paydown, a.Name, a.TargetUtilization*100),
				Paydown: paydown,
			})
		}
	}

	dashboard.OverallUtilization = utilization.Percent(dashboard.TotalBalance, dashboard.TotalLimit)
	dashboard.Summary.CardCount = len(dashboard.CreditCards)
	dashboard.Summary.OverallBand = utilization.Classify(dashboard.OverallUtilization)
	return dashboard
}

// UpdateTarget sets the target utilization for one of the user's accounts
func (s *Service) UpdateTarget(ctx context.Context, accountID int64, target float64) error {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return err
	}
	if target <= 0 || target > 1 {
		return fmt.Errorf("target_utilization must be a fraction in (0, 1]")
	}
	if err := s.repo.UpdateAccountTarget(userID, accountID, target); err != nil {
		return err
	}
	s.invalidateDashboard(ctx, userID)
	return nil
}

// ImportStatement parses an OFX credit card statement and upserts it as
// a manually tracked account.
func (s *Service) ImportStatement(ctx context.Context, name string, data []byte) (*models.Account, error) {
	userID, err := userIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	stmt, err := ofx.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse statement: %w", err)
	}

	if name == "" {
		name = "Imported card"
	}
	mask := stmt.AccountID
	if len(mask) > 4 {
		mask = mask[len(mask)-4:]
	}

	account := &models.Account{
		UserID:            userID,
		ExternalID:        stmt.AccountID,
		Source:            models.SourceManual,
		Name:              name,
		Mask:              mask,
		Balance:           stmt.Balance,
		Limit:             stmt.CreditLimit,
		TargetUtilization: DefaultTargetUtilization,
	}
	if err := s.repo.UpsertAccount(account); err != nil {
		return nil, err
	}

	s.invalidateDashboard(ctx, userID)
	s.log.Infof("Imported statement for user %d, account %s", userID, account.Mask)
	return account, nil
}

// WebhookPayload is the subset of Plaid webhook fields the service acts on.
type WebhookPayload struct {
	WebhookType string `json:"webhook_type"`
	WebhookCode string `json:"webhook_code"`
	ItemID      string `json:"item_id"`
}

// HandleWebhook refreshes the accounts of the item a Plaid webhook
// refers to. Unknown webhook types are acknowledged and ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload WebhookPayload) error {
	if payload.WebhookType != "LIABILITIES" && payload.WebhookType != "TRANSACTIONS" {
		s.log.Debugf("Ignoring webhook %s/%s", payload.WebhookType, payload.WebhookCode)
		return nil
	}
	if payload.ItemID == "" {
		return fmt.Errorf("item_id is required")
	}

	item, err := s.repo.FindItemByPlaidID(payload.ItemID)
	if err != nil {
		return err
	}
	if _, err := s.refreshItem(item); err != nil {
		return err
	}
	s.invalidateDashboard(ctx, item.UserID)
	return nil
}

// AlertSweep emails every user who has at least one card in the bad or
// severe band. Returns the number of alerts sent. Send failures are
// logged and do not stop the sweep.
func (s *Service) AlertSweep() (int, error) {
	accounts, err := s.repo.ListAccountsWithOwners()
	if err != nil {
		return 0, err
	}

	type recipient struct {
		email    string
		username string
		cards    []email.AlertCard
	}
	byUser := make(map[int64]*recipient)
	var order []int64

	for _, a := range accounts {
		percent := utilization.Percent(a.Balance, a.Limit)
		band := utilization.Classify(percent)
		if band != utilization.Bad && band != utilization.Severe {
			continue
		}
		rec, ok := byUser[a.UserID]
		if !ok {
			rec = &recipient{email: a.OwnerEmail, username: a.OwnerUsername}
			byUser[a.UserID] = rec
			order = append(order, a.UserID)
		}
		rec.cards = append(rec.cards, email.AlertCard{
			Name:        a.Name,
			Mask:        a.Mask,
			Utilization: percent,
			Band:        string(band),
			Paydown:     utilization.Paydown(a.Balance, a.Limit, a.TargetUtilization),
		})
	}

	sent := 0
	for _, userID := range order {
		rec := byUser[userID]
		if err := s.mailer.SendUtilizationAlert(rec.email, rec.username, rec.cards); err != nil {
			s.log.Errorf("Alert to user %d failed: %v", userID, err)
			continue
		}
		sent++
	}

	s.log.Infof("Alert sweep complete: %d alerts sent", sent)
	return sent, nil
}

func (s *Service) invalidateDashboard(ctx context.Context, userID int64) {
	if err := s.cache.Delete(ctx, dashboardKey(userID)); err != nil {
		s.log.Warnf("Failed to invalidate dashboard cache for user %d: %v", userID, err)
	}
}

func dashboardKey(userID int64) string {
	return fmt.Sprintf("dashboard:%d", userID)
}

func userIDFromContext(ctx context.Context) (int64, error) {
	userIDStr, ok := ctx.Value(middleware.UserIDKey).(string)
	if !ok || userIDStr == "" {
		return 0, fmt.Errorf("user ID not found in context")
	}
	userID, err := strconv.ParseInt(userIDStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid user ID: %w", err)
	}
	return userID, nil
}
