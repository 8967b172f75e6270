package family

import "time"

const (
	StatusPending  = "pending"
	StatusVerified = "verified"
	StatusExpired  = "expired"

	TypeParent = "parent"

	// notification kinds
	KindParentConfirmation = "parent_confirmation"
	KindParentInvitation   = "parent_invitation"
)

// Invitation links a parent email without an account to a student.
type Invitation struct {
	ID          string     `json:"id"`
	ParentEmail string     `json:"parent_email"`
	StudentID   string     `json:"student_id"`
	Status      string     `json:"status"`
	ExpiresAt   time.Time  `json:"expires_at"` // UTC
	CreatedAt   time.Time  `json:"created_at"` // UTC
	VerifiedAt  *time.Time `json:"verified_at"`
}

// IsExpired is true once `now` is past the expiry instant, whatever the persisted status.
func (inv Invitation) IsExpired(now time.Time) bool {
	return inv.Status == StatusExpired || (inv.Status == StatusPending && now.After(inv.ExpiresAt))
}

// Relationship links an existing parent account to a student account.
type Relationship struct {
	ID         string     `json:"id"`
	ParentID   string     `json:"parent_id"`
	StudentID  string     `json:"student_id"`
	Type       string     `json:"relationship_type"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"` // UTC
	VerifiedAt *time.Time `json:"verified_at"`
}

// Child is the read-only projection returned to parents.
type Child struct {
	RelationshipID string     `json:"relationship_id"`
	StudentID      string     `json:"student_id"`
	Email          string     `json:"email"`
	FirstName      string     `json:"first_name"`
	LastName       string     `json:"last_name"`
	VerifiedAt     *time.Time `json:"verified_at"`
}

// VerifyRequest identifies the linkage to confirm: an invitation id or a student id.
type VerifyRequest struct {
	InvitationID string `json:"invitation_id" query:"invitation_id"`
	StudentID    string `json:"student_id" query:"student_id"`
}

// Connection is the outcome of a verification.
type Connection struct {
	InvitationID    string   `json:"invitation_id,omitempty"`
	ParentEmail     string   `json:"parent_email,omitempty"`
	StudentID       string   `json:"student_id"`
	RelationshipIDs []string `json:"relationship_ids,omitempty"`
	Status          string   `json:"status"`
}

type RelationshipFilter struct {
	ParentID  string
	StudentID string
	Status    string
}

type InvitationFilter struct {
	ParentEmail string
	StudentID   string
	Status      string
}
