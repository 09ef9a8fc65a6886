package guard

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// RecipientConfig restricts who a wallet may pay. Entries match in three
// ways, tried in order: exact address (case-insensitive), domain suffix
// for URL recipients, then regular expression.
type RecipientConfig struct {
	// Allow, when non-empty, is an exhaustive whitelist.
	Allow []string `json:"allow,omitempty"`

	// Deny always blocks, and is checked before Allow.
	Deny []string `json:"deny,omitempty"`
}

// RecipientGuard enforces recipient allow/deny lists. It is stateless.
type RecipientGuard struct {
	cfg RecipientConfig
}

// NewRecipientGuard returns a recipient list guard.
func NewRecipientGuard(cfg RecipientConfig) *RecipientGuard {
	return &RecipientGuard{cfg: cfg}
}

// Name implements Guard.
func (r *RecipientGuard) Name() string { return "recipient" }

// Type implements Guard.
func (r *RecipientGuard) Type() Type { return TypeRecipient }

// matchEntry reports whether entry matches recipient.
func matchEntry(entry, recipient string) bool {
	lrec := strings.ToLower(recipient)
	lent := strings.ToLower(entry)
	if lent == lrec {
		return true
	}
	// Domain matching for URL recipients: entry "api.example.com"
	// matches "https://api.example.com/paid/report".
	if host := recipientHost(lrec); host != "" {
		if host == lent || strings.HasSuffix(host, "."+lent) {
			return true
		}
	}
	if re, err := regexp.Compile(entry); err == nil && re.MatchString(recipient) {
		return true
	}
	return false
}

func recipientHost(recipient string) string {
	if !strings.Contains(recipient, "://") {
		return ""
	}
	u, err := url.Parse(recipient)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// Check applies deny first, then the whitelist if one is configured.
func (r *RecipientGuard) Check(_ context.Context, g Context) error {
	for _, entry := range r.cfg.Deny {
		if matchEntry(entry, g.Recipient) {
			return blocked(r.Name(), fmt.Sprintf("recipient %s is denied", g.Recipient))
		}
	}
	if len(r.cfg.Allow) == 0 {
		return nil
	}
	for _, entry := range r.cfg.Allow {
		if matchEntry(entry, g.Recipient) {
			return nil
		}
	}
	return blocked(r.Name(), fmt.Sprintf("recipient %s is not on the allow list", g.Recipient))
}

// Reserve implements Guard.
func (r *RecipientGuard) Reserve(ctx context.Context, g Context) (string, error) {
	return "", r.Check(ctx, g)
}

// Commit implements Guard.
func (r *RecipientGuard) Commit(context.Context, Context, string) error { return nil }

// Release implements Guard.
func (r *RecipientGuard) Release(context.Context, Context, string) error { return nil }

var _ Guard = (*RecipientGuard)(nil)
