package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/masomo-identity/core/user"
)

type accountRepository struct {
	db *accountTable
}

var _ user.Repository = (*accountRepository)(nil) // interface compliance check

func NewAccountRepository(db *DB) *accountRepository {
	return &accountRepository{db: db.account}
}

// emailTaken must be called with the lock held.
func (repo *accountRepository) emailTaken(email, exclID string) bool {
	for _, acc := range repo.db.table {
		if acc.ID != exclID && strings.EqualFold(acc.Email, email) {
			return true
		}
	}
	return false
}

func (repo *accountRepository) CreateAccount(_ context.Context, acc user.Account) (user.Account, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if repo.emailTaken(acc.Email, "") {
		return user.Account{}, user.ErrEmailExists
	}
	acc.ID = uuid.New().String()
	repo.db.table[acc.ID] = &acc
	return acc, nil
}

func (repo *accountRepository) GetAccount(_ context.Context, filter user.GetFilter) (user.Account, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if filter.ID != "" {
		if acc, ok := repo.db.table[filter.ID]; ok {
			return *acc, nil
		}
		return user.Account{}, user.ErrNotFound
	}
	for _, acc := range repo.db.table {
		if (filter.Email != "" && strings.EqualFold(acc.Email, filter.Email)) ||
			(filter.Email == "" && filter.ProviderID != "" && acc.ProviderID == filter.ProviderID) {
			return *acc, nil
		}
	}
	return user.Account{}, user.ErrNotFound
}

func (repo *accountRepository) QueryAccountsByID(_ context.Context, ids ...string) ([]user.Account, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	accs := make([]user.Account, 0, len(ids))
	for _, id := range ids {
		if acc, ok := repo.db.table[id]; ok {
			accs = append(accs, *acc)
		}
	}
	sort.Slice(accs, func(i, j int) bool { return accs[i].CreatedAt.Before(accs[j].CreatedAt) })
	return accs, nil
}

func (repo *accountRepository) UpdateAccount(_ context.Context, acc user.Account) (user.Account, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.table[acc.ID]; !ok {
		return user.Account{}, user.ErrNotFound
	}
	if repo.emailTaken(acc.Email, acc.ID) {
		return user.Account{}, user.ErrEmailExists
	}
	repo.db.table[acc.ID] = &acc
	return acc, nil
}
