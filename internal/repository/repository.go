package repository

import (
	"database/sql"
	"fmt"

	"github.com/utilpilot/utilization-service/internal/models"
)

// Repository provides database operations
type Repository struct {
	db *sql.DB
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateUser creates a new user in the database
func (r *Repository) CreateUser(user *models.User) error {
	query := `
		INSERT INTO pilot.users (username, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(query, user.Username, user.Email, user.PasswordHash).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// FindUserByEmail retrieves a user by email
func (r *Repository) FindUserByEmail(email string) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, username, email, password_hash, created_at, updated_at
		FROM pilot.users
		WHERE email = $1`
	err := r.db.QueryRow(query, email).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// FindUserByID retrieves a user by ID
func (r *Repository) FindUserByID(id int64) (*models.User, error) {
	user := &models.User{}
	query := `
		SELECT id, username, email, password_hash, created_at, updated_at
		FROM pilot.users
		WHERE id = $1`
	err := r.db.QueryRow(query, id).
		Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// CreateItem stores a linked Plaid item with its encrypted access token
func (r *Repository) CreateItem(item *models.Item) error {
	query := `
		INSERT INTO pilot.plaid_items (user_id, plaid_item_id, access_token, institution, created_at, updated_at)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING id, created_at, updated_at`
	err := r.db.QueryRow(query, item.UserID, item.PlaidItemID, item.AccessToken, item.Institution).
		Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create item: %w", err)
	}
	return nil
}

// ListItemsByUser retrieves all Plaid items linked by a user
func (r *Repository) ListItemsByUser(userID int64) ([]models.Item, error) {
	query := `
		SELECT id, user_id, plaid_item_id, access_token, institution, created_at, updated_at
		FROM pilot.plaid_items
		WHERE user_id = $1
		ORDER BY id`
	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		var item models.Item
		if err := rows.Scan(&item.ID, &item.UserID, &item.PlaidItemID, &item.AccessToken,
			&item.Institution, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate items: %w", err)
	}
	return items, nil
}

// FindItemByPlaidID retrieves an item by its Plaid item ID (webhook lookups)
func (r *Repository) FindItemByPlaidID(plaidItemID string) (*models.Item, error) {
	item := &models.Item{}
	query := `
		SELECT id, user_id, plaid_item_id, access_token, institution, created_at, updated_at
		FROM pilot.plaid_items
		WHERE plaid_item_id = $1`
	err := r.db.QueryRow(query, plaidItemID).
		Scan(&item.ID, &item.UserID, &item.PlaidItemID, &item.AccessToken,
			&item.Institution, &item.CreatedAt, &item.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("item not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find item: %w", err)
	}
	return item, nil
}

// UpsertAccount inserts a credit account or updates its balances if the
// external ID is already tracked for the user. Target utilization is
// preserved on update.
func (r *Repository) UpsertAccount(account *models.Account) error {
	query := `
		INSERT INTO pilot.credit_accounts
			(user_id, item_id, external_id, source, name, mask, balance, credit_limit, target_utilization, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON CONFLICT (user_id, external_id) DO UPDATE SET
			name = EXCLUDED.name,
			mask = EXCLUDED.mask,
			balance = EXCLUDED.balance,
			credit_limit = EXCLUDED.credit_limit,
			updated_at = CURRENT_TIMESTAMP
		RETURNING id, target_utilization, created_at, updated_at`
	err := r.db.QueryRow(query, account.UserID, account.ItemID, account.ExternalID, account.Source,
		account.Name, account.Mask, account.Balance, account.Limit, account.TargetUtilization).
		Scan(&account.ID, &account.TargetUtilization, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert account: %w", err)
	}
	return nil
}

// ListAccountsByUser retrieves all credit accounts for a user
func (r *Repository) ListAccountsByUser(userID int64) ([]models.Account, error) {
	query := `
		SELECT id, user_id, item_id, external_id, source, name, mask, balance, credit_limit, target_utilization, created_at, updated_at
		FROM pilot.credit_accounts
		WHERE user_id = $1
		ORDER BY id`
	rows, err := r.db.Query(query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.ItemID, &a.ExternalID, &a.Source, &a.Name, &a.Mask,
			&a.Balance, &a.Limit, &a.TargetUtilization, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}

// UpdateAccountTarget sets the target utilization for an account owned
// by the given user
func (r *Repository) UpdateAccountTarget(userID, accountID int64, target float64) error {
	query := `
		UPDATE pilot.credit_accounts
		SET target_utilization = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND user_id = $3`
	res, err := r.db.Exec(query, target, accountID, userID)
	if err != nil {
		return fmt.Errorf("failed to update target: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("account not found")
	}
	return nil
}

// ListAccountsWithOwners retrieves every credit account joined with its
// owner's contact details, for the daily alert sweep.
func (r *Repository) ListAccountsWithOwners() ([]models.AccountWithOwner, error) {
	query := `
		SELECT a.id, a.user_id, a.item_id, a.external_id, a.source, a.name, a.mask,
		       a.balance, a.credit_limit, a.target_utilization, a.created_at, a.updated_at,
		       u.email, u.username
		FROM pilot.credit_accounts a
		JOIN pilot.users u ON u.id = a.user_id
		ORDER BY a.user_id, a.id`
	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts with owners: %w", err)
	}
	defer rows.Close()

	var accounts []models.AccountWithOwner
	for rows.Next() {
		var a models.AccountWithOwner
		if err := rows.Scan(&a.ID, &a.UserID, &a.ItemID, &a.ExternalID, &a.Source, &a.Name, &a.Mask,
			&a.Balance, &a.Limit, &a.TargetUtilization, &a.CreatedAt, &a.UpdatedAt,
			&a.OwnerEmail, &a.OwnerUsername); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate accounts: %w", err)
	}
	return accounts, nil
}
