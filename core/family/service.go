package family

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/user"
)

var (
	// errors
	ErrNotFound      = errors.New("linkage not found")
	ErrPendingExists = errors.New("a pending linkage already exists for this pair")

	ErrMissingTarget     = core.NewBadRequestError("one of invitation_id or student_id is required")
	ErrInvalidInvitation = core.NewBadRequestError("invalid invitation")
	ErrExpiredInvitation = core.NewBadRequestError("invitation has expired")
	ErrNoRelationship    = core.NewBadRequestError("no parent relationship found for this student")
	ErrNotAParent        = core.NewBadRequestError("the parent email belongs to an account that is not a parent")
)

type (
	// Repository persists relationships and invitations.
	// Create* return ErrPendingExists when a pending row already exists for the same pair.
	Repository interface {
		CreateRelationship(ctx context.Context, rel Relationship) (Relationship, error)
		QueryRelationships(ctx context.Context, filter RelationshipFilter) ([]Relationship, error)
		UpdateRelationship(ctx context.Context, rel Relationship) (Relationship, error)

		CreateInvitation(ctx context.Context, inv Invitation) (Invitation, error)
		GetInvitation(ctx context.Context, id string) (Invitation, error)
		QueryInvitations(ctx context.Context, filter InvitationFilter) ([]Invitation, error)
		UpdateInvitation(ctx context.Context, inv Invitation) (Invitation, error)
	}

	// Notifier delivers invitation emails. It must not block the caller for long.
	Notifier interface {
		Send(ctx context.Context, to, kind string, fields map[string]string) error
	}

	// AccountFinder looks up accounts owned by the identity service.
	AccountFinder interface {
		GetByEmail(ctx context.Context, email string) (user.Account, error)
		QueryByID(ctx context.Context, ids ...string) ([]user.Account, error)
	}

	Service struct {
		repo        Repository
		accounts    AccountFinder
		notifier    Notifier
		logger      core.Logger
		ttl         time.Duration
		frontendURL string
	}
)

var _ user.ParentLinker = (*Service)(nil)

func NewService(conf *core.Config, repo Repository, accounts AccountFinder, notifier Notifier, logger core.Logger) *Service {
	return &Service{
		repo:        repo,
		accounts:    accounts,
		notifier:    notifier,
		logger:      logger,
		ttl:         conf.InvitationTTL,
		frontendURL: conf.FrontendBaseURL,
	}
}

// LinkParent connects a student to the owner of parentEmail, or invites parentEmail when it has no account.
// Repeated calls for the same pair reuse the pending row and only re-send the notification.
func (svc *Service) LinkParent(ctx context.Context, studentID, parentEmail, studentName string) error {
	parentEmail = core.CleanEmail(parentEmail)

	parent, err := svc.accounts.GetByEmail(ctx, parentEmail)
	switch {
	case err == nil:
		if parent.ID == studentID {
			return core.NewBadRequestError("a student cannot be their own parent")
		}
		if !parent.IsParent() {
			return ErrNotAParent
		}
		return svc.linkExistingParent(ctx, parent, studentID, studentName)
	case errors.Cause(err) == user.ErrNotFound:
		return svc.inviteParent(ctx, parentEmail, studentID, studentName)
	default:
		return errors.Wrap(err, "finding parent by email")
	}
}

func (svc *Service) linkExistingParent(ctx context.Context, parent user.Account, studentID, studentName string) error {
	rel, linked, err := svc.pendingRelationship(ctx, parent.ID, studentID)
	if err != nil || linked {
		return err
	}
	if rel.ID == "" {
		rel, err = svc.repo.CreateRelationship(ctx, Relationship{
			ParentID:  parent.ID,
			StudentID: studentID,
			Type:      TypeParent,
			Status:    StatusPending,
			CreatedAt: core.Now(),
		})
		if errors.Cause(err) == ErrPendingExists {
			// lost a concurrent race: the winner's row is ours too
			rel, _, err = svc.pendingRelationship(ctx, parent.ID, studentID)
		}
		if err != nil {
			return errors.Wrap(err, "creating relationship")
		}
	}

	svc.notify(ctx, parent.Email, KindParentConfirmation, map[string]string{
		"student_name": studentName,
		"link":         svc.verifyLink("student_id", studentID),
	})
	return nil
}

// pendingRelationship returns the pending relationship of the pair if any.
// linked is true when the pair is already verified.
func (svc *Service) pendingRelationship(ctx context.Context, parentID, studentID string) (rel Relationship, linked bool, err error) {
	rels, err := svc.repo.QueryRelationships(ctx, RelationshipFilter{ParentID: parentID, StudentID: studentID})
	if err != nil {
		return Relationship{}, false, errors.Wrap(err, "querying relationships")
	}
	for _, r := range rels {
		switch r.Status {
		case StatusVerified:
			return r, true, nil
		case StatusPending:
			rel = r
		}
	}
	return rel, false, nil
}

func (svc *Service) inviteParent(ctx context.Context, parentEmail, studentID, studentName string) error {
	inv, linked, err := svc.pendingInvitation(ctx, parentEmail, studentID)
	if err != nil || linked {
		return err
	}
	if inv.ID == "" {
		now := core.Now()
		inv, err = svc.repo.CreateInvitation(ctx, Invitation{
			ParentEmail: parentEmail,
			StudentID:   studentID,
			Status:      StatusPending,
			ExpiresAt:   now.Add(svc.ttl),
			CreatedAt:   now,
		})
		if errors.Cause(err) == ErrPendingExists {
			inv, _, err = svc.pendingInvitation(ctx, parentEmail, studentID)
		}
		if err != nil {
			return errors.Wrap(err, "creating invitation")
		}
	}

	svc.notify(ctx, parentEmail, KindParentInvitation, map[string]string{
		"student_name": studentName,
		"link":         svc.verifyLink("invitation_id", inv.ID),
		"expires_at":   inv.ExpiresAt.Format("January 2, 2006 15:04 MST"),
	})
	return nil
}

// pendingInvitation returns the live pending invitation of the pair if any, expiring stale ones on the way.
// linked is true when an invitation of the pair was already verified.
func (svc *Service) pendingInvitation(ctx context.Context, parentEmail, studentID string) (inv Invitation, linked bool, err error) {
	invs, err := svc.repo.QueryInvitations(ctx, InvitationFilter{ParentEmail: parentEmail, StudentID: studentID})
	if err != nil {
		return Invitation{}, false, errors.Wrap(err, "querying invitations")
	}
	now := core.Now()
	for _, i := range invs {
		switch {
		case i.Status == StatusVerified:
			return i, true, nil
		case i.Status == StatusPending && i.IsExpired(now):
			if err = svc.expire(ctx, i); err != nil {
				return Invitation{}, false, err
			}
		case i.Status == StatusPending:
			inv = i
		}
	}
	return inv, false, nil
}

func (svc *Service) expire(ctx context.Context, inv Invitation) error {
	inv.Status = StatusExpired
	if _, err := svc.repo.UpdateInvitation(ctx, inv); err != nil {
		return errors.Wrap(err, "expiring invitation")
	}
	return nil
}

func (svc *Service) notify(ctx context.Context, to, kind string, fields map[string]string) {
	if svc.notifier == nil {
		return
	}
	if err := svc.notifier.Send(ctx, to, kind, fields); err != nil {
		svc.logger.Error(fmt.Sprintf("sending %s notification", kind), err)
	}
}

func (svc *Service) verifyLink(param, value string) string {
	q := make(url.Values)
	q.Set(param, value)
	return svc.frontendURL + "/family/verify?" + q.Encode()
}

// VerifyConnection confirms an invitation (by id) or the pending relationships of a student.
// The invitation id takes precedence when both are provided. Verifying twice is not an error.
func (svc *Service) VerifyConnection(ctx context.Context, req VerifyRequest) (Connection, error) {
	req.InvitationID = core.CleanString(req.InvitationID)
	req.StudentID = core.CleanString(req.StudentID)

	switch {
	case req.InvitationID != "":
		return svc.verifyInvitation(ctx, req.InvitationID)
	case req.StudentID != "":
		return svc.verifyRelationships(ctx, req.StudentID)
	default:
		return Connection{}, ErrMissingTarget
	}
}

func (svc *Service) verifyInvitation(ctx context.Context, id string) (Connection, error) {
	inv, err := svc.repo.GetInvitation(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Connection{}, ErrInvalidInvitation
		}
		return Connection{}, errors.Wrap(err, "finding invitation")
	}

	now := core.Now()
	switch {
	case inv.Status == StatusVerified:
	case inv.IsExpired(now):
		if inv.Status == StatusPending {
			if err = svc.expire(ctx, inv); err != nil {
				svc.logger.Error(fmt.Sprintf("persisting expiry of invitation %s", inv.ID), err)
			}
		}
		return Connection{}, ErrExpiredInvitation
	default:
		inv.Status = StatusVerified
		inv.VerifiedAt = &now
		if inv, err = svc.repo.UpdateInvitation(ctx, inv); err != nil {
			return Connection{}, errors.Wrap(err, "verifying invitation")
		}
	}

	conn := Connection{
		InvitationID: inv.ID,
		ParentEmail:  inv.ParentEmail,
		StudentID:    inv.StudentID,
		Status:       inv.Status,
	}
	// the invited parent may have registered while the invitation was pending
	if parent, err := svc.accounts.GetByEmail(ctx, inv.ParentEmail); err == nil {
		if !parent.IsParent() {
			svc.logger.Warn(fmt.Sprintf("invitation %s: %s is registered as %s, not claimed", inv.ID, inv.ParentEmail, parent.Role))
			return conn, nil
		}
		rel, err := svc.claim(ctx, parent.ID, inv)
		if err != nil {
			svc.logger.Error(fmt.Sprintf("claiming invitation %s", inv.ID), err)
		} else {
			conn.RelationshipIDs = []string{rel.ID}
		}
	}
	return conn, nil
}

func (svc *Service) verifyRelationships(ctx context.Context, studentID string) (Connection, error) {
	rels, err := svc.repo.QueryRelationships(ctx, RelationshipFilter{StudentID: studentID})
	if err != nil {
		return Connection{}, errors.Wrap(err, "querying relationships")
	}
	if len(rels) == 0 {
		return Connection{}, ErrNoRelationship
	}

	now := core.Now()
	conn := Connection{StudentID: studentID, Status: StatusVerified}
	for _, rel := range rels {
		if rel.Status == StatusPending {
			rel.Status = StatusVerified
			rel.VerifiedAt = &now
			if rel, err = svc.repo.UpdateRelationship(ctx, rel); err != nil {
				return Connection{}, errors.Wrap(err, "verifying relationship")
			}
		}
		conn.RelationshipIDs = append(conn.RelationshipIDs, rel.ID)
	}
	return conn, nil
}

// ClaimInvitations turns the verified invitations of a newly registered parent into verified relationships.
func (svc *Service) ClaimInvitations(ctx context.Context, parentID, parentEmail string) error {
	invs, err := svc.repo.QueryInvitations(ctx, InvitationFilter{
		ParentEmail: core.CleanEmail(parentEmail),
		Status:      StatusVerified,
	})
	if err != nil {
		return errors.Wrap(err, "querying verified invitations")
	}
	for _, inv := range invs {
		if _, err = svc.claim(ctx, parentID, inv); err != nil {
			return errors.Wrapf(err, "claiming invitation %s", inv.ID)
		}
	}
	return nil
}

// claim returns the verified relationship matching a verified invitation, creating it if needed.
func (svc *Service) claim(ctx context.Context, parentID string, inv Invitation) (Relationship, error) {
	rel, linked, err := svc.pendingRelationship(ctx, parentID, inv.StudentID)
	if err != nil || linked {
		return rel, err
	}

	verifiedAt := inv.VerifiedAt
	if verifiedAt == nil {
		now := core.Now()
		verifiedAt = &now
	}
	if rel.ID != "" {
		rel.Status = StatusVerified
		rel.VerifiedAt = verifiedAt
		return svc.repo.UpdateRelationship(ctx, rel)
	}
	return svc.repo.CreateRelationship(ctx, Relationship{
		ParentID:   parentID,
		StudentID:  inv.StudentID,
		Type:       TypeParent,
		Status:     StatusVerified,
		CreatedAt:  core.Now(),
		VerifiedAt: verifiedAt,
	})
}

// GetChildrenFor lists the verified children of a parent with their minimal profile.
func (svc *Service) GetChildrenFor(ctx context.Context, parentID string) ([]Child, error) {
	rels, err := svc.repo.QueryRelationships(ctx, RelationshipFilter{ParentID: parentID, Status: StatusVerified})
	if err != nil {
		return nil, errors.Wrap(err, "querying relationships")
	}
	children := make([]Child, 0, len(rels))
	if len(rels) == 0 {
		return children, nil
	}

	ids := make([]string, 0, len(rels))
	for _, rel := range rels {
		ids = append(ids, rel.StudentID)
	}
	students, err := svc.accounts.QueryByID(ctx, ids...)
	if err != nil {
		return nil, errors.Wrap(err, "querying students")
	}
	byID := make(map[string]user.Account, len(students))
	for _, s := range students {
		byID[s.ID] = s
	}

	for _, rel := range rels {
		student, ok := byID[rel.StudentID]
		if !ok {
			continue
		}
		children = append(children, Child{
			RelationshipID: rel.ID,
			StudentID:      student.ID,
			Email:          student.Email,
			FirstName:      student.FirstName,
			LastName:       student.LastName,
			VerifiedAt:     rel.VerifiedAt,
		})
	}
	return children, nil
}
