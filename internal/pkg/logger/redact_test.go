package logger

import "testing"

func TestRedactEmail(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"john.doe@example.com", "jo***@example.com"},
		{"ab@example.com", "***@example.com"},
		{"a@example.com", "***@example.com"},
		{"not-an-email", "***@***"},
		{"two@signs@here", "***@***"},
	}
	for _, c := range cases {
		if got := RedactEmail(c.in); got != c.want {
			t.Errorf("RedactEmail(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestRedactPIIValue(t *testing.T) {
	if got := redactPIIValue("contact_email", "jane@corp.io"); got != "ja***@corp.io" {
		t.Errorf("contact_email not redacted: %q", got)
	}
	if got := redactPIIValue("note", "ping bob.smith@corp.io about renewal"); got != "ping bo***@corp.io about renewal" {
		t.Errorf("embedded email not redacted: %q", got)
	}
	if got := redactPIIValue("event_id", "evt-123"); got != "evt-123" {
		t.Errorf("non-PII value changed: %q", got)
	}
}
