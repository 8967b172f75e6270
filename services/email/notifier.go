package emailsvc

import (
	"context"
	"net/mail"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-identity/core"
	"github.com/trezcool/masomo-identity/core/family"
)

var invitationSubjects = map[string]string{
	family.KindParentConfirmation: "Confirm your child's account",
	family.KindParentInvitation:   "You have been invited to follow a student",
}

// InvitationNotifier renders family notifications through an EmailService.
type InvitationNotifier struct {
	mailSvc core.EmailService
}

var _ family.Notifier = (*InvitationNotifier)(nil)

func NewInvitationNotifier(mailSvc core.EmailService) *InvitationNotifier {
	return &InvitationNotifier{mailSvc: mailSvc}
}

// Send queues the email; delivery failures are reported by the EmailService's logger.
func (n *InvitationNotifier) Send(_ context.Context, to, kind string, fields map[string]string) error {
	subject, ok := invitationSubjects[kind]
	if !ok {
		return errors.Errorf("unknown notification kind %q", kind)
	}
	addr, err := mail.ParseAddress(to)
	if err != nil {
		return errors.Wrapf(err, "parsing recipient %q", to)
	}
	n.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{*addr},
		Subject:      subject,
		TemplateName: kind,
		TemplateData: fields,
	})
	return nil
}
