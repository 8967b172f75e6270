package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/masomo-identity/core/family"
)

type familyRepository struct {
	db *familyTable
}

var _ family.Repository = (*familyRepository)(nil) // interface compliance check

func NewFamilyRepository(db *DB) *familyRepository {
	return &familyRepository{db: db.family}
}

func (repo *familyRepository) CreateRelationship(_ context.Context, rel family.Relationship) (family.Relationship, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if rel.Status == family.StatusPending {
		for _, r := range repo.db.relationships {
			if r.Status == family.StatusPending && r.ParentID == rel.ParentID && r.StudentID == rel.StudentID {
				return family.Relationship{}, family.ErrPendingExists
			}
		}
	}
	rel.ID = uuid.New().String()
	repo.db.relationships[rel.ID] = &rel
	return rel, nil
}

func (repo *familyRepository) QueryRelationships(_ context.Context, filter family.RelationshipFilter) ([]family.Relationship, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	rels := make([]family.Relationship, 0)
	for _, r := range repo.db.relationships {
		if (filter.ParentID == "" || r.ParentID == filter.ParentID) &&
			(filter.StudentID == "" || r.StudentID == filter.StudentID) &&
			(filter.Status == "" || r.Status == filter.Status) {
			rels = append(rels, *r)
		}
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].CreatedAt.Before(rels[j].CreatedAt) })
	return rels, nil
}

func (repo *familyRepository) UpdateRelationship(_ context.Context, rel family.Relationship) (family.Relationship, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.relationships[rel.ID]; !ok {
		return family.Relationship{}, family.ErrNotFound
	}
	repo.db.relationships[rel.ID] = &rel
	return rel, nil
}

func (repo *familyRepository) CreateInvitation(_ context.Context, inv family.Invitation) (family.Invitation, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if inv.Status == family.StatusPending {
		for _, i := range repo.db.invitations {
			if i.Status == family.StatusPending && i.StudentID == inv.StudentID && strings.EqualFold(i.ParentEmail, inv.ParentEmail) {
				return family.Invitation{}, family.ErrPendingExists
			}
		}
	}
	inv.ID = uuid.New().String()
	repo.db.invitations[inv.ID] = &inv
	return inv, nil
}

func (repo *familyRepository) GetInvitation(_ context.Context, id string) (family.Invitation, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if inv, ok := repo.db.invitations[id]; ok {
		return *inv, nil
	}
	return family.Invitation{}, family.ErrNotFound
}

func (repo *familyRepository) QueryInvitations(_ context.Context, filter family.InvitationFilter) ([]family.Invitation, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	invs := make([]family.Invitation, 0)
	for _, i := range repo.db.invitations {
		if (filter.ParentEmail == "" || strings.EqualFold(i.ParentEmail, filter.ParentEmail)) &&
			(filter.StudentID == "" || i.StudentID == filter.StudentID) &&
			(filter.Status == "" || i.Status == filter.Status) {
			invs = append(invs, *i)
		}
	}
	sort.Slice(invs, func(i, j int) bool { return invs[i].CreatedAt.Before(invs[j].CreatedAt) })
	return invs, nil
}

func (repo *familyRepository) UpdateInvitation(_ context.Context, inv family.Invitation) (family.Invitation, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	if _, ok := repo.db.invitations[inv.ID]; !ok {
		return family.Invitation{}, family.ErrNotFound
	}
	if inv.Status == family.StatusPending {
		for _, i := range repo.db.invitations {
			if i.ID != inv.ID && i.Status == family.StatusPending && i.StudentID == inv.StudentID &&
				strings.EqualFold(i.ParentEmail, inv.ParentEmail) {
				return family.Invitation{}, family.ErrPendingExists
			}
		}
	}
	repo.db.invitations[inv.ID] = &inv
	return inv, nil
}
