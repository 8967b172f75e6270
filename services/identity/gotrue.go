package identitysvc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/sendgrid/rest"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/user"
)

const tokenPath = "/token"

type (
	gotrueUser struct {
		ID               string        `json:"id"`
		Email            string        `json:"email"`
		ConfirmedAt      *string       `json:"confirmed_at"`
		EmailConfirmedAt *string       `json:"email_confirmed_at"`
		UserMetadata     user.Metadata `json:"user_metadata"`
	}

	gotrueSession struct {
		AccessToken string     `json:"access_token"`
		User        gotrueUser `json:"user"`
	}

	gotrueError struct {
		Code             interface{} `json:"code"`
		ErrorCode        string      `json:"error_code"`
		Error            string      `json:"error"`
		ErrorDescription string      `json:"error_description"`
		Msg              string      `json:"msg"`
		Message          string      `json:"message"`
	}

	// GoTrueProvider talks to a GoTrue compatible REST API (Supabase Auth, Netlify Identity).
	GoTrueProvider struct {
		baseURL string
		apiKey  string
	}
)

var _ user.Provider = (*GoTrueProvider)(nil)

func NewGoTrueProvider(conf *core.Config) *GoTrueProvider {
	return &GoTrueProvider{
		baseURL: conf.Provider.BaseURL,
		apiKey:  conf.Provider.APIKey,
	}
}

func (u gotrueUser) confirmed() bool {
	return u.EmailConfirmedAt != nil || u.ConfirmedAt != nil
}

func (e gotrueError) text() string {
	return strings.ToLower(strings.Join([]string{e.ErrorCode, e.Error, e.ErrorDescription, e.Msg, e.Message}, " "))
}

func (p *GoTrueProvider) do(ctx context.Context, method, path string, body interface{}, out interface{}, bearer ...string) (*gotrueError, error) {
	req := rest.Request{
		Method:  rest.Method(method),
		BaseURL: p.baseURL + path,
		Headers: map[string]string{
			"apikey":       p.apiKey,
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
	}
	if len(bearer) > 0 {
		req.Headers["Authorization"] = "Bearer " + bearer[0]
	}
	if path == tokenPath {
		req.QueryParams = map[string]string{"grant_type": "password"}
	}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "encoding request body")
		}
		req.Body = b
	}

	res, err := rest.SendWithContext(ctx, req)
	if err != nil {
		return nil, user.NewProviderError(user.ProviderUnavailable, err)
	}
	if res.StatusCode >= http.StatusInternalServerError || res.StatusCode == http.StatusTooManyRequests {
		return nil, user.NewProviderError(user.ProviderUnavailable, errors.Errorf("status %d: %s", res.StatusCode, res.Body))
	}
	if res.StatusCode >= http.StatusBadRequest {
		gErr := new(gotrueError)
		_ = json.Unmarshal([]byte(res.Body), gErr)
		if strings.TrimSpace(gErr.text()) == "" {
			gErr.Message = res.Body
		}
		return gErr, errors.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(gErr.text()))
	}
	if out != nil && res.Body != "" {
		if err = json.Unmarshal([]byte(res.Body), out); err != nil {
			return nil, user.NewProviderError(user.ProviderUnavailable, errors.Wrap(err, "decoding response"))
		}
	}
	return nil, nil
}

func (p *GoTrueProvider) CreateAccount(ctx context.Context, email, password string, meta user.Metadata) (string, error) {
	var usr gotrueUser
	gErr, err := p.do(ctx, http.MethodPost, "/signup", map[string]interface{}{
		"email":    email,
		"password": password,
		"data":     meta,
	}, &usr)
	if gErr != nil {
		if strings.Contains(gErr.text(), "already") || strings.Contains(gErr.text(), "exists") {
			return "", user.NewProviderError(user.ProviderEmailExists, err)
		}
		return "", user.NewProviderError(user.ProviderRejected, err)
	}
	if err != nil {
		return "", err
	}
	if usr.ID == "" {
		return "", user.NewProviderError(user.ProviderUnavailable, errors.New("signup returned no user id"))
	}
	return usr.ID, nil
}

func (p *GoTrueProvider) Authenticate(ctx context.Context, email, password string) (user.AuthResult, error) {
	var sess gotrueSession
	gErr, err := p.do(ctx, http.MethodPost, tokenPath, map[string]string{
		"email":    email,
		"password": password,
	}, &sess)
	if gErr != nil {
		// GoTrue checks the password before the confirmation
		if strings.Contains(gErr.text(), "not confirmed") {
			return user.AuthResult{Email: email, Confirmed: false}, nil
		}
		return user.AuthResult{}, user.NewProviderError(user.ProviderInvalidCredentials, err)
	}
	if err != nil {
		return user.AuthResult{}, err
	}
	return user.AuthResult{
		ProviderID: sess.User.ID,
		Email:      sess.User.Email,
		Confirmed:  sess.User.confirmed(),
		Metadata:   sess.User.UserMetadata,
	}, nil
}

func (p *GoTrueProvider) SendVerification(ctx context.Context, email string) error {
	gErr, err := p.do(ctx, http.MethodPost, "/resend", map[string]string{"type": "signup", "email": email}, nil)
	if gErr != nil {
		return user.NewProviderError(user.ProviderRejected, err)
	}
	return err
}

func (p *GoTrueProvider) RedeemVerification(ctx context.Context, token string) (string, error) {
	sess, err := p.verify(ctx, "signup", token)
	if err != nil {
		return "", err
	}
	return sess.User.ID, nil
}

func (p *GoTrueProvider) verify(ctx context.Context, kind, token string) (gotrueSession, error) {
	var sess gotrueSession
	gErr, err := p.do(ctx, http.MethodPost, "/verify", map[string]string{"type": kind, "token": token}, &sess)
	if gErr != nil {
		return gotrueSession{}, user.NewProviderError(user.ProviderInvalidToken, err)
	}
	if err != nil {
		return gotrueSession{}, err
	}
	if sess.User.ID == "" {
		return gotrueSession{}, user.NewProviderError(user.ProviderInvalidToken, errors.New("verify returned no user"))
	}
	return sess, nil
}

func (p *GoTrueProvider) RequestPasswordReset(ctx context.Context, email string) error {
	gErr, err := p.do(ctx, http.MethodPost, "/recover", map[string]string{"email": email}, nil)
	if gErr != nil {
		return user.NewProviderError(user.ProviderRejected, err)
	}
	return err
}

// ApplyPasswordReset redeems the recovery token for a session, then sets the new password with it.
func (p *GoTrueProvider) ApplyPasswordReset(ctx context.Context, token, newPassword string) (string, error) {
	sess, err := p.verify(ctx, "recovery", token)
	if err != nil {
		return "", err
	}

	var usr gotrueUser
	gErr, err := p.do(ctx, http.MethodPut, "/user", map[string]string{"password": newPassword}, &usr, sess.AccessToken)
	if gErr != nil {
		return "", user.NewProviderError(user.ProviderRejected, err)
	}
	if err != nil {
		return "", err
	}
	return sess.User.ID, nil
}
