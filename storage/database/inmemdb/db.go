// Package inmemdb provides in-memory repositories with the same uniqueness rules as the Postgres schema.
package inmemdb

import (
	"sync"

	"github.com/trezcool/masomo-identity/core/family"
	"github.com/trezcool/masomo-identity/core/user"
)

type (
	accountTable struct {
		mutex sync.RWMutex
		table map[string]*user.Account
	}

	familyTable struct {
		mutex         sync.RWMutex
		relationships map[string]*family.Relationship
		invitations   map[string]*family.Invitation
	}

	DB struct {
		account *accountTable
		family  *familyTable
	}
)

func NewDB() *DB {
	return &DB{
		account: &accountTable{table: make(map[string]*user.Account)},
		family: &familyTable{
			relationships: make(map[string]*family.Relationship),
			invitations:   make(map[string]*family.Invitation),
		},
	}
}
