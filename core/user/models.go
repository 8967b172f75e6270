package user

import (
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/masomo-identity/core"
)

// Roles
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
	RoleParent  = "parent"
)

var (
	AllRoles = []string{RoleAdmin, RoleTeacher, RoleStudent, RoleParent}

	// SelfServiceRoles may be chosen on public registration.
	SelfServiceRoles = []string{RoleTeacher, RoleStudent, RoleParent}

	Roles = []Role{
		{Name: "Administrator", Value: RoleAdmin},
		{Name: "Teacher", Value: RoleTeacher},
		{Name: "Student", Value: RoleStudent},
		{Name: "Parent", Value: RoleParent},
	}
)

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

func IsValidRole(role string) bool {
	for _, r := range AllRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Account is the local record of any platform user.
type Account struct {
	ID               string     `json:"id"`
	ProviderID       string     `json:"-"`
	Email            string     `json:"email"`
	PasswordHash     []byte     `json:"-"`
	FirstName        string     `json:"first_name"`
	LastName         string     `json:"last_name"`
	Role             string     `json:"role"`
	IsActive         bool       `json:"is_active"`
	IsVerified       bool       `json:"is_verified"`
	LastLogin        *time.Time `json:"last_login"` // UTC
	ResetTokenExpiry *time.Time `json:"-"` // UTC, end of the window opened by the last reset request
	CreatedAt        time.Time  `json:"created_at"` // UTC
	UpdatedAt        time.Time  `json:"updated_at"` // UTC
}

func (a *Account) SetPassword(pwd string, cost int) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), cost)
	if err != nil {
		return err
	}
	a.PasswordHash = hash
	return nil
}

func (a *Account) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(pwd))
}

func (a Account) FullName() string {
	return core.CleanString(a.FirstName + " " + a.LastName)
}

func (a Account) IsAdmin() bool   { return a.Role == RoleAdmin }
func (a Account) IsStudent() bool { return a.Role == RoleStudent }
func (a Account) IsParent() bool  { return a.Role == RoleParent }

// Sanitize returns a copy of the account without any credential material.
func (a Account) Sanitize() Account {
	a.PasswordHash = nil
	a.ResetTokenExpiry = nil
	return a
}

// resetExpired reports whether the reset window has lapsed.
func (a Account) resetExpired(now time.Time) bool {
	return a.ResetTokenExpiry != nil && now.After(*a.ResetTokenExpiry)
}

func (a *Account) clearReset() {
	a.ResetTokenExpiry = nil
}

// Session is returned on successful registration or login.
type Session struct {
	Token   string  `json:"token"`
	Account Account `json:"account"`
}

// NewAccount contains information needed to register a new Account.
type NewAccount struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
	FirstName       string `json:"first_name" validate:"required,max=100,personname"`
	LastName        string `json:"last_name" validate:"required,max=100,personname"`
	Role            string `json:"role" validate:"required,role"`
	ParentEmail     string `json:"parent_email" validate:"omitempty,email"`
}

func (na *NewAccount) Clean() {
	na.Email = core.CleanEmail(na.Email)
	na.FirstName = core.CleanString(na.FirstName)
	na.LastName = core.CleanString(na.LastName)
	na.Role = core.CleanString(na.Role, true /* lower */)
	na.ParentEmail = core.CleanEmail(na.ParentEmail)
}

func (na *NewAccount) Validate(validate *validator.Validate, translator ut.Translator) error {
	na.Clean()
	return core.TranslateValidationErrors(validate.Struct(na), translator)
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (lr *LoginRequest) Validate(validate *validator.Validate, translator ut.Translator) error {
	lr.Email = core.CleanEmail(lr.Email)
	return core.TranslateValidationErrors(validate.Struct(lr), translator)
}

type EmailRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (er *EmailRequest) Validate(validate *validator.Validate, translator ut.Translator) error {
	er.Email = core.CleanEmail(er.Email)
	return core.TranslateValidationErrors(validate.Struct(er), translator)
}

type TokenRequest struct {
	Token string `json:"token" validate:"required"`
}

func (tr *TokenRequest) Validate(validate *validator.Validate, translator ut.Translator) error {
	tr.Token = core.CleanString(tr.Token)
	return core.TranslateValidationErrors(validate.Struct(tr), translator)
}

type ResetPassword struct {
	Token           string `json:"token" validate:"required"`
	Password        string `json:"password" validate:"required"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

func (rp *ResetPassword) Validate(validate *validator.Validate, translator ut.Translator) error {
	rp.Token = core.CleanString(rp.Token)
	return core.TranslateValidationErrors(validate.Struct(rp), translator)
}

// GetFilter selects a single Account; the first non-empty field wins.
type GetFilter struct {
	ID         string
	Email      string
	ProviderID string
}
