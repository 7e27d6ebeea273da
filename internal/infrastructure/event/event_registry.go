package event

import (
	"github.com/hotline/admissions/internal/domain/admission"
	"github.com/hotline/admissions/internal/domain/shared"
)

// RegisterAdmissionEvents registers the admission event types with the serializer
func RegisterAdmissionEvents(serializer *EventSerializer) {
	serializer.Register(admission.EventTypeApplicationSubmitted, func() shared.DomainEvent { return &admission.ApplicationSubmittedEvent{} })
	serializer.Register(admission.EventTypeApprovalDecided, func() shared.DomainEvent { return &admission.ApprovalDecidedEvent{} })
	serializer.Register(admission.EventTypeVoteMessagePosted, func() shared.DomainEvent { return &admission.VoteMessagePostedEvent{} })
	serializer.Register(admission.EventTypeRatificationDecided, func() shared.DomainEvent { return &admission.RatificationDecidedEvent{} })
}
