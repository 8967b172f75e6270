package family_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/family"
	"github.com/trezcool/masomo-identity/core/user"
	"github.com/trezcool/masomo-identity/tests"
)

const pwd = "Str0ng#Pass-2026"

func freezeTime(t *testing.T, at time.Time) *time.Time {
	now := at
	core.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { core.NowFunc = time.Now })
	return &now
}

func relationships(t *testing.T, env *testutil.Env, filter family.RelationshipFilter) []family.Relationship {
	rels, err := env.FamRepo.QueryRelationships(context.Background(), filter)
	require.NoError(t, err)
	return rels
}

func invitations(t *testing.T, env *testutil.Env, filter family.InvitationFilter) []family.Invitation {
	invs, err := env.FamRepo.QueryInvitations(context.Background(), filter)
	require.NoError(t, err)
	return invs
}

func TestService_existingParentScenario(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)

	parent := env.Register(t, "parent@x.com", pwd, user.RoleParent, "", true)
	env.Mail.Reset()
	kid := env.Register(t, "kid@x.com", pwd, user.RoleStudent, "Parent@X.com", false)

	rels := relationships(t, env, family.RelationshipFilter{StudentID: kid.ID})
	require.Len(t, rels, 1)
	assert.Equal(t, parent.ID, rels[0].ParentID)
	assert.Equal(t, family.StatusPending, rels[0].Status)
	assert.Empty(t, invitations(t, env, family.InvitationFilter{StudentID: kid.ID}))

	var confirmations int
	for _, msg := range env.Mail.Sent() {
		if msg.TemplateName == family.KindParentConfirmation {
			confirmations++
			assert.Equal(t, "parent@x.com", msg.To[0].Address)
			assert.Contains(t, msg.TextContent, "student_id="+kid.ID)
		}
	}
	assert.Equal(t, 1, confirmations)

	children, err := env.FamilySvc.GetChildrenFor(ctx, parent.ID)
	require.NoError(t, err)
	assert.Empty(t, children, "pending links are not listed")

	conn, err := env.FamilySvc.VerifyConnection(ctx, family.VerifyRequest{StudentID: kid.ID})
	require.NoError(t, err)
	assert.Equal(t, family.StatusVerified, conn.Status)
	assert.Equal(t, []string{rels[0].ID}, conn.RelationshipIDs)

	rels = relationships(t, env, family.RelationshipFilter{StudentID: kid.ID})
	require.Len(t, rels, 1)
	assert.Equal(t, family.StatusVerified, rels[0].Status)
	assert.NotNil(t, rels[0].VerifiedAt)

	children, err = env.FamilySvc.GetChildrenFor(ctx, parent.ID)
	require.NoError(t, err)
	if assert.Len(t, children, 1) {
		assert.Equal(t, kid.ID, children[0].StudentID)
		assert.Equal(t, "kid@x.com", children[0].Email)
	}
}

func TestService_LinkParent_reusesPendingRow(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)

	parent := env.Register(t, "parent@x.com", pwd, user.RoleParent, "", true)
	kid := env.Register(t, "kid@x.com", pwd, user.RoleStudent, "parent@x.com", false)
	env.Mail.Reset()

	require.NoError(t, env.FamilySvc.LinkParent(ctx, kid.ID, "parent@x.com", "Kid"))
	require.NoError(t, env.FamilySvc.LinkParent(ctx, kid.ID, "PARENT@x.com", "Kid"))

	assert.Len(t, relationships(t, env, family.RelationshipFilter{ParentID: parent.ID, StudentID: kid.ID}), 1)
	assert.Len(t, env.Mail.Sent(), 2, "the notification is re-sent")

	// once verified, further links are no-ops
	_, err := env.FamilySvc.VerifyConnection(ctx, family.VerifyRequest{StudentID: kid.ID})
	require.NoError(t, err)
	env.Mail.Reset()
	require.NoError(t, env.FamilySvc.LinkParent(ctx, kid.ID, "parent@x.com", "Kid"))
	assert.Len(t, relationships(t, env, family.RelationshipFilter{ParentID: parent.ID, StudentID: kid.ID}), 1)
	assert.Empty(t, env.Mail.Sent())
}

func TestService_LinkParent_self(t *testing.T) {
	env := testutil.NewEnv(t)
	kid := env.Register(t, "kid@x.com", pwd, user.RoleStudent, "", false)

	err := env.FamilySvc.LinkParent(context.Background(), kid.ID, "kid@x.com", "Kid")
	assert.True(t, core.IsKind(err, core.KindBadRequest))
}

func TestService_LinkParent_nonParentAccount(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)

	teacher := env.Register(t, "teacher@x.com", pwd, user.RoleTeacher, "", true)
	other := env.Register(t, "other@x.com", pwd, user.RoleStudent, "", true)
	kid := env.Register(t, "kid@x.com", pwd, user.RoleStudent, "", false)
	env.Mail.Reset()

	for _, email := range []string{teacher.Email, other.Email} {
		err := env.FamilySvc.LinkParent(ctx, kid.ID, email, "Kid")
		assert.Equal(t, family.ErrNotAParent, err)
	}
	assert.Empty(t, relationships(t, env, family.RelationshipFilter{StudentID: kid.ID}))
	assert.Empty(t, invitations(t, env, family.InvitationFilter{StudentID: kid.ID}))
	assert.Empty(t, env.Mail.Sent())

	// registration still succeeds, the link is skipped
	kid2 := env.Register(t, "kid2@x.com", pwd, user.RoleStudent, teacher.Email, false)
	assert.Empty(t, relationships(t, env, family.RelationshipFilter{StudentID: kid2.ID}))
}

func TestService_VerifyConnection_invitedEmailNotAParent(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)

	kid := env.Register(t, "kid@x.com", pwd, user.RoleStudent, "someone@x.com", false)
	inv := invitations(t, env, family.InvitationFilter{StudentID: kid.ID})[0]
	teacher := env.Register(t, "someone@x.com", pwd, user.RoleTeacher, "", true)

	conn, err := env.FamilySvc.VerifyConnection(ctx, family.VerifyRequest{InvitationID: inv.ID})
	require.NoError(t, err)
	assert.Equal(t, family.StatusVerified, conn.Status)
	assert.Empty(t, conn.RelationshipIDs)
	assert.Empty(t, relationships(t, env, family.RelationshipFilter{ParentID: teacher.ID}))
}

func TestService_LinkParent_concurrent(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	kid := env.Register(t, "kid@x.com", pwd, user.RoleStudent, "", false)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, env.FamilySvc.LinkParent(ctx, kid.ID, "newparent@x.com", "Kid"))
		}()
	}
	wg.Wait()

	assert.Len(t, invitations(t, env, family.InvitationFilter{StudentID: kid.ID, Status: family.StatusPending}), 1)
}

func TestService_invitationScenario(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	now := freezeTime(t, start)

	env.Mail.Reset()
	kid := env.Register(t, "kid2@x.com", pwd, user.RoleStudent, "newparent@x.com", false)

	invs := invitations(t, env, family.InvitationFilter{StudentID: kid.ID})
	require.Len(t, invs, 1)
	inv := invs[0]
	assert.Equal(t, "newparent@x.com", inv.ParentEmail)
	assert.Equal(t, family.StatusPending, inv.Status)
	assert.Equal(t, start.Add(7*24*time.Hour), inv.ExpiresAt)
	assert.Empty(t, relationships(t, env, family.RelationshipFilter{StudentID: kid.ID}))

	var invited bool
	for _, msg := range env.Mail.Sent() {
		if msg.TemplateName == family.KindParentInvitation {
			invited = true
			assert.Equal(t, "newparent@x.com", msg.To[0].Address)
			assert.Contains(t, msg.TextContent, "invitation_id="+inv.ID)
		}
	}
	assert.True(t, invited)

	*now = start.Add(24 * time.Hour)
	conn, err := env.FamilySvc.VerifyConnection(ctx, family.VerifyRequest{InvitationID: inv.ID})
	require.NoError(t, err)
	assert.Equal(t, family.StatusVerified, conn.Status)
	assert.Equal(t, inv.ID, conn.InvitationID)
	assert.Empty(t, conn.RelationshipIDs, "the parent has no account yet")

	// verifying twice is fine
	_, err = env.FamilySvc.VerifyConnection(ctx, family.VerifyRequest{InvitationID: inv.ID})
	assert.NoError(t, err)

	// the parent registers: the verified invitation becomes a verified relationship
	parent := env.Register(t, "newparent@x.com", pwd, user.RoleParent, "", true)
	children, err := env.FamilySvc.GetChildrenFor(ctx, parent.ID)
	require.NoError(t, err)
	if assert.Len(t, children, 1) {
		assert.Equal(t, kid.ID, children[0].StudentID)
	}
}

func TestService_invitationExpiry(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	start := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	now := freezeTime(t, start)

	kid := env.Register(t, "kid2@x.com", pwd, user.RoleStudent, "newparent@x.com", false)
	inv := invitations(t, env, family.InvitationFilter{StudentID: kid.ID})[0]

	*now = inv.ExpiresAt.Add(time.Second)
	_, err := env.FamilySvc.VerifyConnection(ctx, family.VerifyRequest{InvitationID: inv.ID})
	assert.Equal(t, family.ErrExpiredInvitation, err)
	assert.True(t, core.IsKind(err, core.KindBadRequest))

	stored, err := env.FamRepo.GetInvitation(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, family.StatusExpired, stored.Status)
	assert.Nil(t, stored.VerifiedAt)

	// a fresh invitation for the same pair expires just the same
	require.NoError(t, env.FamilySvc.LinkParent(ctx, kid.ID, "newparent@x.com", "Kid"))
	pending := invitations(t, env, family.InvitationFilter{StudentID: kid.ID, Status: family.StatusPending})
	require.Len(t, pending, 1)
	assert.NotEqual(t, inv.ID, pending[0].ID)

	*now = pending[0].ExpiresAt.Add(time.Minute)
	_, err = env.FamilySvc.VerifyConnection(ctx, family.VerifyRequest{InvitationID: pending[0].ID})
	assert.Equal(t, family.ErrExpiredInvitation, err)
}

func TestService_invitationClaimedOnVerify(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)

	kid := env.Register(t, "kid2@x.com", pwd, user.RoleStudent, "newparent@x.com", false)
	inv := invitations(t, env, family.InvitationFilter{StudentID: kid.ID})[0]

	// the parent registers before following the invitation link
	parent := env.Register(t, "newparent@x.com", pwd, user.RoleParent, "", true)
	assert.Empty(t, relationships(t, env, family.RelationshipFilter{ParentID: parent.ID}))

	conn, err := env.FamilySvc.VerifyConnection(ctx, family.VerifyRequest{InvitationID: inv.ID})
	require.NoError(t, err)
	require.Len(t, conn.RelationshipIDs, 1)

	rels := relationships(t, env, family.RelationshipFilter{ParentID: parent.ID, StudentID: kid.ID})
	require.Len(t, rels, 1)
	assert.Equal(t, family.StatusVerified, rels[0].Status)
}

func TestService_VerifyConnection_errors(t *testing.T) {
	ctx := context.Background()
	env := testutil.NewEnv(t)
	kid := env.Register(t, "kid@x.com", pwd, user.RoleStudent, "", false)

	tests := []struct {
		name string
		req  family.VerifyRequest
		want error
	}{
		{name: "no target", req: family.VerifyRequest{InvitationID: " "}, want: family.ErrMissingTarget},
		{name: "unknown invitation", req: family.VerifyRequest{InvitationID: "6f1d4c1e-0000-4000-8000-000000000000"}, want: family.ErrInvalidInvitation},
		{name: "no relationship", req: family.VerifyRequest{StudentID: kid.ID}, want: family.ErrNoRelationship},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.FamilySvc.VerifyConnection(ctx, tt.req)
			assert.Equal(t, tt.want, err)
			assert.True(t, core.IsKind(err, core.KindBadRequest))
		})
	}
}

type failingNotifier struct{}

func (failingNotifier) Send(context.Context, string, string, map[string]string) error {
	return errors.New("smtp down")
}

func TestService_LinkParent_notifierFailure(t *testing.T) {
	env := testutil.NewEnv(t)
	svc := family.NewService(env.Conf, env.FamRepo, env.UserSvc, failingNotifier{}, env.Logger)
	kid := testutil.CreateAccount(t, env.AccRepo, "kid@x.com", pwd, user.RoleStudent, true, true)

	require.NoError(t, svc.LinkParent(context.Background(), kid.ID, "newparent@x.com", "Kid"))
	assert.Len(t, invitations(t, env, family.InvitationFilter{StudentID: kid.ID}), 1)
}

func TestService_GetChildrenFor_empty(t *testing.T) {
	env := testutil.NewEnv(t)

	children, err := env.FamilySvc.GetChildrenFor(context.Background(), "nobody")
	require.NoError(t, err)
	assert.NotNil(t, children)
	assert.Empty(t, children)
}
