package resolver

import (
	"regexp"
	"strings"

	"github.com/brightdesk/crm-engine/internal/domain"
)

// Local-part patterns that mark an address as a non-person sender. Checked
// in order; first match wins. Senders classified here are never candidates
// for person-style entity linking.
var senderPatterns = []struct {
	re         *regexp.Regexp
	senderType domain.SenderType
}{
	{regexp.MustCompile(`^(no[-_.]?reply|do[-_.]?not[-_.]?reply|mailer|bounce|notifications?|alerts?)([-_.+].*)?$`), domain.SenderAutomated},
	{regexp.MustCompile(`^(newsletters?|news|digest|updates?|weekly|daily|marketing)([-_.+].*)?$`), domain.SenderNewsletter},
	{regexp.MustCompile(`^(postmaster|mailer[-_.]?daemon|root|daemon|system|cron)([-_.+].*)?$`), domain.SenderSystem},
	{regexp.MustCompile(`^(info|support|sales|hello|team|contact|office|admin|help|billing|careers|jobs|hr)([-_.+].*)?$`), domain.SenderSharedInbox},
}

// ClassifySender reports whether the email address matches a non-person
// sender pattern and, if so, which sender type it is.
func ClassifySender(email string) (domain.SenderType, bool) {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "", false
	}
	local := strings.ToLower(email[:at])
	for _, p := range senderPatterns {
		if p.re.MatchString(local) {
			return p.senderType, true
		}
	}
	return "", false
}

// looksLikeEmail is a cheap shape check; full validation happens at
// ingestion time.
func looksLikeEmail(s string) bool {
	at := strings.Index(s, "@")
	return at > 0 && strings.Contains(s[at+1:], ".")
}
