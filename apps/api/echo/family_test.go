package echoapi_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-identity/core/family"
	"github.com/trezcool/masomo-identity/core/user"
)

func Test_familyApi_verifyAndChildren(t *testing.T) {
	app, env := setup(t)
	parent := env.Register(t, "parent@x.com", pwd, user.RoleParent, "", true)
	kid := env.Register(t, "kid@x.com", pwd, user.RoleStudent, "parent@x.com", false)
	parentToken := getToken(t, env, parent)

	rels, err := env.FamRepo.QueryRelationships(context.Background(), family.RelationshipFilter{StudentID: kid.ID})
	require.NoError(t, err)
	require.Len(t, rels, 1)

	runTests(t, app, []httpTest{
		{name: "Nothing verified yet", method: http.MethodGet, path: "/v1/family/children", token: parentToken, wantData: []byte(`[]`)},
		{
			name: "Verify by student", method: http.MethodGet, path: "/v1/family/verify?student_id=" + kid.ID,
			wantData: marchallObj(t, family.Connection{StudentID: kid.ID, RelationshipIDs: []string{rels[0].ID}, Status: family.StatusVerified}),
		},
		{
			name: "Verify again", method: http.MethodPost, path: "/v1/family/verify", body: marchallObj(t, family.VerifyRequest{StudentID: kid.ID}),
			wantData: marchallObj(t, family.Connection{StudentID: kid.ID, RelationshipIDs: []string{rels[0].ID}, Status: family.StatusVerified}),
		},
		{
			name: "Target required", method: http.MethodGet, path: "/v1/family/verify", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "one of invitation_id or student_id is required"}),
		},
		{
			name: "Unknown invitation", method: http.MethodGet, path: "/v1/family/verify?invitation_id=nope", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, httpErr{Error: "invalid invitation"}),
		},
		{name: "Auth required", method: http.MethodGet, path: "/v1/family/children", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{name: "Parents only", method: http.MethodGet, path: "/v1/family/children", token: getToken(t, env, kid), wantCode: http.StatusForbidden, wantData: marchallObj(t, errForbidden)},
	})

	rec := serve(app, http.MethodGet, "/v1/family/children", parentToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var children []family.Child
	decode(t, rec, &children)
	if assert.Len(t, children, 1) {
		assert.Equal(t, kid.ID, children[0].StudentID)
		assert.Equal(t, rels[0].ID, children[0].RelationshipID)
	}
}

func Test_familyApi_verifyInvitation(t *testing.T) {
	app, env := setup(t)
	kid := env.Register(t, "kid2@x.com", pwd, user.RoleStudent, "newparent@x.com", false)

	invs, err := env.FamRepo.QueryInvitations(context.Background(), family.InvitationFilter{StudentID: kid.ID})
	require.NoError(t, err)
	require.Len(t, invs, 1)

	rec := serve(app, http.MethodGet, "/v1/family/verify?invitation_id="+invs[0].ID, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var conn family.Connection
	decode(t, rec, &conn)
	assert.Equal(t, family.StatusVerified, conn.Status)
	assert.Equal(t, "newparent@x.com", conn.ParentEmail)
}
