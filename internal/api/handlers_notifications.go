package api

import (
	"fmt"
	"log"
	"net/http"

	"github.com/brightdesk/crm-engine/internal/domain"
	"github.com/brightdesk/crm-engine/internal/pkg/httputil"
)

// sesNotification is the SES feedback notification shape (SNS subscription
// with raw message delivery enabled). The enrollment_id message tag set on
// every sequence send ties the notification back to our records.
type sesNotification struct {
	NotificationType string `json:"notificationType"`
	Bounce           *struct {
		BounceType        string `json:"bounceType"`
		BouncedRecipients []struct {
			EmailAddress   string `json:"emailAddress"`
			DiagnosticCode string `json:"diagnosticCode"`
		} `json:"bouncedRecipients"`
	} `json:"bounce"`
	Complaint *struct {
		ComplaintFeedbackType string `json:"complaintFeedbackType"`
	} `json:"complaint"`
	Mail struct {
		Tags map[string][]string `json:"tags"`
	} `json:"mail"`
}

// handleSESNotification finalizes the delivery status of a logged send when
// SES reports a bounce or complaint. Other notification types are
// acknowledged without action so the subscription never retries them.
func (s *Server) handleSESNotification(w http.ResponseWriter, r *http.Request) {
	var n sesNotification
	if !httputil.Decode(w, r, &n) {
		return
	}

	var reason string
	switch n.NotificationType {
	case "Bounce":
		if n.Bounce != nil {
			reason = n.Bounce.BounceType
			if len(n.Bounce.BouncedRecipients) > 0 && n.Bounce.BouncedRecipients[0].DiagnosticCode != "" {
				reason = fmt.Sprintf("%s: %s", n.Bounce.BounceType, n.Bounce.BouncedRecipients[0].DiagnosticCode)
			}
		}
	case "Complaint":
		reason = "complaint"
		if n.Complaint != nil && n.Complaint.ComplaintFeedbackType != "" {
			reason = "complaint: " + n.Complaint.ComplaintFeedbackType
		}
	default:
		httputil.OK(w, map[string]any{"success": true, "ignored": n.NotificationType})
		return
	}

	tags := n.Mail.Tags["enrollment_id"]
	if len(tags) == 0 || tags[0] == "" {
		httputil.BadRequest(w, "enrollment_id tag missing")
		return
	}
	enrollmentID := tags[0]

	enr, err := s.sequences.GetEnrollment(r.Context(), enrollmentID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	entry, err := s.audit.LatestSentForContact(r.Context(), enr.SequenceID, enr.ContactID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := s.audit.UpdateDeliveryStatus(r.Context(), entry.ID, domain.SendBounced, reason); err != nil {
		s.writeStoreError(w, err)
		return
	}

	log.Printf("[API] Enrollment %s: send %s marked bounced (%s)", enrollmentID, entry.ID, n.NotificationType)
	httputil.OK(w, map[string]any{"success": true, "send_log_id": entry.ID})
}
