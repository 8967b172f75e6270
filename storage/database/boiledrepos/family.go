package boiledrepos

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/family"
)

const (
	relationshipColumns = `id, parent_id, student_id, relationship_type, status, created_at, verified_at`
	invitationColumns   = `id, parent_email, student_id, status, expires_at, created_at, verified_at`
)

type relationshipRow struct {
	ID         string    `boil:"id"`
	ParentID   string    `boil:"parent_id"`
	StudentID  string    `boil:"student_id"`
	Type       string    `boil:"relationship_type"`
	Status     string    `boil:"status"`
	CreatedAt  null.Time `boil:"created_at"`
	VerifiedAt null.Time `boil:"verified_at"`
}

type invitationRow struct {
	ID          string    `boil:"id"`
	ParentEmail string    `boil:"parent_email"`
	StudentID   string    `boil:"student_id"`
	Status      string    `boil:"status"`
	ExpiresAt   null.Time `boil:"expires_at"`
	CreatedAt   null.Time `boil:"created_at"`
	VerifiedAt  null.Time `boil:"verified_at"`
}

type familyRepository struct {
	exec core.DBExecutor
}

var _ family.Repository = (*familyRepository)(nil) // interface compliance check

func NewFamilyRepository(exec core.DBExecutor) *familyRepository {
	return &familyRepository{exec: exec}
}

func (repo familyRepository) unboilRelationship(row relationshipRow) family.Relationship {
	return family.Relationship{
		ID:         row.ID,
		ParentID:   row.ParentID,
		StudentID:  row.StudentID,
		Type:       row.Type,
		Status:     row.Status,
		CreatedAt:  row.CreatedAt.Time.UTC(),
		VerifiedAt: utcPtr(row.VerifiedAt),
	}
}

func (repo familyRepository) unboilInvitation(row invitationRow) family.Invitation {
	return family.Invitation{
		ID:          row.ID,
		ParentEmail: row.ParentEmail,
		StudentID:   row.StudentID,
		Status:      row.Status,
		ExpiresAt:   row.ExpiresAt.Time.UTC(),
		CreatedAt:   row.CreatedAt.Time.UTC(),
		VerifiedAt:  utcPtr(row.VerifiedAt),
	}
}

func (repo familyRepository) trapErr(err error, msg string) error {
	return trapErr(err, family.ErrNotFound, family.ErrPendingExists, msg)
}

// where builds an AND-ed WHERE clause from the non-empty (column, value) pairs.
func where(pairs ...string) (string, []interface{}) {
	var conds []string
	var args []interface{}
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		args = append(args, pairs[i+1])
		conds = append(conds, fmt.Sprintf("%s = $%d", pairs[i], len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (repo familyRepository) CreateRelationship(ctx context.Context, rel family.Relationship) (family.Relationship, error) {
	rel.ID = uuid.New().String()

	var row relationshipRow
	err := queries.Raw(
		`INSERT INTO parent_student_relationship (`+relationshipColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+relationshipColumns,
		rel.ID, rel.ParentID, rel.StudentID, rel.Type, rel.Status,
		rel.CreatedAt.UTC(), null.TimeFromPtr(rel.VerifiedAt),
	).Bind(ctx, repo.exec, &row)
	if err != nil {
		return family.Relationship{}, repo.trapErr(err, "inserting relationship")
	}
	return repo.unboilRelationship(row), nil
}

func (repo familyRepository) QueryRelationships(ctx context.Context, filter family.RelationshipFilter) ([]family.Relationship, error) {
	clause, args := where(
		"parent_id", filter.ParentID,
		"student_id", filter.StudentID,
		"status", filter.Status,
	)

	var rows []relationshipRow
	err := queries.Raw(
		`SELECT `+relationshipColumns+` FROM parent_student_relationship`+clause+` ORDER BY created_at`,
		args...,
	).Bind(ctx, repo.exec, &rows)
	if err != nil {
		if pqCode(err) == pqInvalidTextRepr {
			return []family.Relationship{}, nil
		}
		return nil, repo.trapErr(err, "selecting relationships")
	}

	rels := make([]family.Relationship, 0, len(rows))
	for _, row := range rows {
		rels = append(rels, repo.unboilRelationship(row))
	}
	return rels, nil
}

func (repo familyRepository) UpdateRelationship(ctx context.Context, rel family.Relationship) (family.Relationship, error) {
	var row relationshipRow
	err := queries.Raw(
		`UPDATE parent_student_relationship SET status = $2, verified_at = $3
		WHERE id = $1
		RETURNING `+relationshipColumns,
		rel.ID, rel.Status, null.TimeFromPtr(rel.VerifiedAt),
	).Bind(ctx, repo.exec, &row)
	if err != nil {
		return family.Relationship{}, repo.trapErr(err, "updating relationship")
	}
	return repo.unboilRelationship(row), nil
}

func (repo familyRepository) CreateInvitation(ctx context.Context, inv family.Invitation) (family.Invitation, error) {
	inv.ID = uuid.New().String()

	var row invitationRow
	err := queries.Raw(
		`INSERT INTO parent_invitation (`+invitationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+invitationColumns,
		inv.ID, strings.ToLower(inv.ParentEmail), inv.StudentID, inv.Status,
		inv.ExpiresAt.UTC(), inv.CreatedAt.UTC(), null.TimeFromPtr(inv.VerifiedAt),
	).Bind(ctx, repo.exec, &row)
	if err != nil {
		return family.Invitation{}, repo.trapErr(err, "inserting invitation")
	}
	return repo.unboilInvitation(row), nil
}

func (repo familyRepository) GetInvitation(ctx context.Context, id string) (family.Invitation, error) {
	var row invitationRow
	err := queries.Raw(`SELECT `+invitationColumns+` FROM parent_invitation WHERE id = $1`, id).
		Bind(ctx, repo.exec, &row)
	if err != nil {
		return family.Invitation{}, repo.trapErr(err, "selecting invitation")
	}
	return repo.unboilInvitation(row), nil
}

func (repo familyRepository) QueryInvitations(ctx context.Context, filter family.InvitationFilter) ([]family.Invitation, error) {
	clause, args := where(
		"LOWER(parent_email)", strings.ToLower(filter.ParentEmail),
		"student_id", filter.StudentID,
		"status", filter.Status,
	)

	var rows []invitationRow
	err := queries.Raw(
		`SELECT `+invitationColumns+` FROM parent_invitation`+clause+` ORDER BY created_at`,
		args...,
	).Bind(ctx, repo.exec, &rows)
	if err != nil {
		if pqCode(err) == pqInvalidTextRepr {
			return []family.Invitation{}, nil
		}
		return nil, repo.trapErr(err, "selecting invitations")
	}

	invs := make([]family.Invitation, 0, len(rows))
	for _, row := range rows {
		invs = append(invs, repo.unboilInvitation(row))
	}
	return invs, nil
}

func (repo familyRepository) UpdateInvitation(ctx context.Context, inv family.Invitation) (family.Invitation, error) {
	var row invitationRow
	err := queries.Raw(
		`UPDATE parent_invitation SET status = $2, verified_at = $3
		WHERE id = $1
		RETURNING `+invitationColumns,
		inv.ID, inv.Status, null.TimeFromPtr(inv.VerifiedAt),
	).Bind(ctx, repo.exec, &row)
	if err != nil {
		return family.Invitation{}, repo.trapErr(err, "updating invitation")
	}
	return repo.unboilInvitation(row), nil
}
