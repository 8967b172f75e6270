package boiledrepos

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/user"
)

const accountColumns = `id, provider_id, email, password_hash, first_name, last_name, role, is_active, is_verified,
	last_login, reset_token_expiry, created_at, updated_at`

type accountRow struct {
	ID               string      `boil:"id"`
	ProviderID       string      `boil:"provider_id"`
	Email            string      `boil:"email"`
	PasswordHash     []byte      `boil:"password_hash"`
	FirstName        string      `boil:"first_name"`
	LastName         string      `boil:"last_name"`
	Role             string      `boil:"role"`
	IsActive         bool        `boil:"is_active"`
	IsVerified       bool        `boil:"is_verified"`
	LastLogin        null.Time   `boil:"last_login"`
	ResetTokenExpiry null.Time   `boil:"reset_token_expiry"`
	CreatedAt        null.Time   `boil:"created_at"`
	UpdatedAt        null.Time   `boil:"updated_at"`
}

type accountRepository struct {
	exec core.DBExecutor
}

var _ user.Repository = (*accountRepository)(nil) // interface compliance check

func NewAccountRepository(exec core.DBExecutor) *accountRepository {
	return &accountRepository{exec: exec}
}

func (repo accountRepository) boil(acc user.Account) accountRow {
	return accountRow{
		ID:               acc.ID,
		ProviderID:       acc.ProviderID,
		Email:            acc.Email,
		PasswordHash:     acc.PasswordHash,
		FirstName:        acc.FirstName,
		LastName:         acc.LastName,
		Role:             acc.Role,
		IsActive:         acc.IsActive,
		IsVerified:       acc.IsVerified,
		LastLogin:        null.TimeFromPtr(acc.LastLogin),
		ResetTokenExpiry: null.TimeFromPtr(acc.ResetTokenExpiry),
		CreatedAt:        null.NewTime(acc.CreatedAt.UTC(), !acc.CreatedAt.IsZero()),
		UpdatedAt:        null.NewTime(acc.UpdatedAt.UTC(), !acc.UpdatedAt.IsZero()),
	}
}

func (repo accountRepository) unboil(row accountRow) user.Account {
	return user.Account{
		ID:               row.ID,
		ProviderID:       row.ProviderID,
		Email:            row.Email,
		PasswordHash:     row.PasswordHash,
		FirstName:        row.FirstName,
		LastName:         row.LastName,
		Role:             row.Role,
		IsActive:         row.IsActive,
		IsVerified:       row.IsVerified,
		LastLogin:        utcPtr(row.LastLogin),
		ResetTokenExpiry: utcPtr(row.ResetTokenExpiry),
		CreatedAt:        row.CreatedAt.Time.UTC(),
		UpdatedAt:        row.UpdatedAt.Time.UTC(),
	}
}

func (repo accountRepository) trapErr(err error, msg string) error {
	return trapErr(err, user.ErrNotFound, user.ErrEmailExists, msg)
}

func (repo accountRepository) CreateAccount(ctx context.Context, acc user.Account) (user.Account, error) {
	acc.ID = uuid.New().String()
	r := repo.boil(acc)

	var row accountRow
	err := queries.Raw(
		`INSERT INTO account (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING `+accountColumns,
		r.ID, r.ProviderID, r.Email, r.PasswordHash, r.FirstName, r.LastName, r.Role, r.IsActive, r.IsVerified,
		r.LastLogin, r.ResetTokenExpiry, r.CreatedAt, r.UpdatedAt,
	).Bind(ctx, repo.exec, &row)
	if err != nil {
		return user.Account{}, repo.trapErr(err, "inserting account")
	}
	return repo.unboil(row), nil
}

func (repo accountRepository) GetAccount(ctx context.Context, filter user.GetFilter) (user.Account, error) {
	var where string
	var arg interface{}
	switch {
	case filter.ID != "":
		where, arg = "id = $1", filter.ID
	case filter.Email != "":
		where, arg = "LOWER(email) = $1", strings.ToLower(filter.Email)
	case filter.ProviderID != "":
		where, arg = "provider_id = $1", filter.ProviderID
	default:
		return user.Account{}, user.ErrNotFound
	}

	var row accountRow
	err := queries.Raw(`SELECT `+accountColumns+` FROM account WHERE `+where, arg).Bind(ctx, repo.exec, &row)
	if err != nil {
		return user.Account{}, repo.trapErr(err, "selecting account")
	}
	return repo.unboil(row), nil
}

func (repo accountRepository) QueryAccountsByID(ctx context.Context, ids ...string) ([]user.Account, error) {
	if len(ids) == 0 {
		return []user.Account{}, nil
	}

	var rows []accountRow
	err := queries.Raw(
		`SELECT `+accountColumns+` FROM account WHERE id = ANY($1::uuid[]) ORDER BY created_at`,
		pq.Array(ids),
	).Bind(ctx, repo.exec, &rows)
	if err != nil {
		if pqCode(err) == pqInvalidTextRepr {
			return []user.Account{}, nil
		}
		return nil, repo.trapErr(err, "selecting accounts")
	}

	accs := make([]user.Account, 0, len(rows))
	for _, row := range rows {
		accs = append(accs, repo.unboil(row))
	}
	return accs, nil
}

func (repo accountRepository) UpdateAccount(ctx context.Context, acc user.Account) (user.Account, error) {
	r := repo.boil(acc)

	var row accountRow
	err := queries.Raw(
		`UPDATE account SET email = $2, password_hash = $3, first_name = $4, last_name = $5, role = $6,
			is_active = $7, is_verified = $8, last_login = $9, reset_token_expiry = $10,
			updated_at = $11
		WHERE id = $1
		RETURNING `+accountColumns,
		r.ID, r.Email, r.PasswordHash, r.FirstName, r.LastName, r.Role,
		r.IsActive, r.IsVerified, r.LastLogin, r.ResetTokenExpiry,
		r.UpdatedAt,
	).Bind(ctx, repo.exec, &row)
	if err != nil {
		return user.Account{}, repo.trapErr(err, "updating account")
	}
	return repo.unboil(row), nil
}
