package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core/family"
	"github.com/trezcool/masomo-identity/core/user"
)

type familyApi struct {
	svc FamilyService
}

func registerFamilyAPI(g *echo.Group, authn echo.MiddlewareFunc, svc FamilyService) {
	api := familyApi{svc: svc}

	fg := g.Group("/family")

	// the verification link carries its own target
	fg.GET("/verify", api.verify)
	fg.POST("/verify", api.verify)

	fg.GET("/children", api.children, authn, roleMiddleware(user.RoleParent))
}

func (api *familyApi) verify(ctx echo.Context) error {
	var data family.VerifyRequest
	if ctx.Request().Method == http.MethodGet {
		data.InvitationID = ctx.QueryParam("invitation_id")
		data.StudentID = ctx.QueryParam("student_id")
	} else if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to VerifyRequest")
	}

	conn, err := api.svc.VerifyConnection(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "verifying connection")
	}
	return ctx.JSON(http.StatusOK, conn)
}

func (api *familyApi) children(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	children, err := api.svc.GetChildrenFor(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return errors.Wrap(err, "querying children")
	}
	return ctx.JSON(http.StatusOK, children)
}
