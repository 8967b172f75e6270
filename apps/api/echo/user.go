package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/user"
)

const (
	msgPasswordReset = "If the email address supplied is associated with an active account on this system, " +
		"an email will arrive in your inbox shortly with instructions to reset your password."
	msgResendVerification = "If the email address supplied is associated with an unverified account on this system, " +
		"a new verification email will arrive in your inbox shortly."
	msgPasswordResetDone = "Password has been reset with the new password."
)

type userApi struct {
	svc        IdentityService
	validate   *validator.Validate
	translator ut.Translator
}

func registerUserAPI(
	g *echo.Group,
	authn echo.MiddlewareFunc,
	limit func(scope string) echo.MiddlewareFunc,
	svc IdentityService,
	validate *validator.Validate,
	translator ut.Translator,
) {
	api := userApi{
		svc:        svc,
		validate:   validate,
		translator: translator,
	}

	ag := g.Group("/auth")

	// un-authed endpoints
	ag.POST("/register", api.register)
	ag.POST("/login", api.login, limit("login"))
	ag.POST("/verify-email", api.verifyEmail)
	ag.POST("/resend-verification", api.resendVerification, limit("resend-verification"))
	ag.POST("/forgot-password", api.forgotPassword, limit("forgot-password"))
	ag.POST("/reset-password", api.resetPassword, limit("reset-password"))

	// authed endpoints
	ag.GET("/me", api.me, authn)
	ag.GET("/roles", api.queryRoles, authn, roleMiddleware(user.RoleAdmin))
}

// Handlers

func (api *userApi) register(ctx echo.Context) error {
	var data user.NewAccount
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAccount")
	}
	if err := data.Validate(api.validate, api.translator); err != nil {
		return err
	}
	// administrators are created through the admin CLI only
	if !isSelfServiceRole(data.Role) {
		return core.NewValidationError(nil, core.FieldError{Field: "role", Error: "invalid role"})
	}

	sess, err := api.svc.Register(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering account")
	}
	return ctx.JSON(http.StatusCreated, sess)
}

func (api *userApi) login(ctx echo.Context) error {
	var data user.LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.validate, api.translator); err != nil {
		return err
	}

	sess, err := api.svc.Login(ctx.Request().Context(), data.Email, data.Password)
	if err != nil {
		return errors.Wrap(err, "logging in")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *userApi) verifyEmail(ctx echo.Context) error {
	var data user.TokenRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TokenRequest")
	}
	if err := data.Validate(api.validate, api.translator); err != nil {
		return err
	}

	acc, err := api.svc.VerifyEmail(ctx.Request().Context(), data.Token)
	if err != nil {
		return errors.Wrap(err, "verifying email")
	}
	return ctx.JSON(http.StatusOK, acc)
}

func (api *userApi) resendVerification(ctx echo.Context) error {
	var data user.EmailRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EmailRequest")
	}
	if err := data.Validate(api.validate, api.translator); err != nil {
		return err
	}

	api.svc.ResendVerification(ctx.Request().Context(), data.Email)
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: msgResendVerification})
}

func (api *userApi) forgotPassword(ctx echo.Context) error {
	var data user.EmailRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to EmailRequest")
	}
	if err := data.Validate(api.validate, api.translator); err != nil {
		return err
	}

	// do not return errors to attackers
	api.svc.RequestPasswordReset(ctx.Request().Context(), data.Email)
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: msgPasswordReset})
}

func (api *userApi) resetPassword(ctx echo.Context) error {
	var data user.ResetPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetPassword")
	}
	if err := data.Validate(api.validate, api.translator); err != nil {
		return err
	}

	if err := api.svc.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: msgPasswordResetDone})
}

func (api *userApi) me(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	acc, err := api.svc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return errAuthenticationFailed
		}
		return errors.Wrap(err, "finding account by ID")
	}
	if !acc.IsActive {
		return user.ErrAccountInactive
	}
	return ctx.JSON(http.StatusOK, acc)
}

func (api *userApi) queryRoles(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, user.Roles)
}

func isSelfServiceRole(role string) bool {
	for _, r := range user.SelfServiceRoles {
		if r == role {
			return true
		}
	}
	return false
}

type SuccessResponse struct {
	Success string `json:"success"`
}
