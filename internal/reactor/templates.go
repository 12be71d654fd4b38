package reactor

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/cexll/pollbot/internal/platform"
)

// DefaultCommentTemplate is the reply body for a matching comment.
const DefaultCommentTemplate = `I found this comment!`

// DefaultOptOutTemplate confirms an opt-out request.
const DefaultOptOutTemplate = `Okay, I will no longer reply to your posts.`

// footerTemplate is appended to every reply. Superscript markup keeps it small
// on platforms that render it and harmless on those that do not.
const footerTemplate = "\n\n___\n\n" +
	`*^I ^am ^a ^bot. ^Message ^{{.OwnerMention}} ^if ^I ^am ^being ^stupid. ^[Unsubscribe]({{.UnsubscribeURL}})*`

// ReplyData is available to the reply body templates.
type ReplyData struct {
	Author string
	Feed   string
	Bot    string
	Owner  string
}

// FooterData is available to the footer template.
type FooterData struct {
	OwnerMention   string
	UnsubscribeURL string
}

// Templates renders reply bodies.
type Templates struct {
	comment *template.Template
	optOut  *template.Template
	footer  *template.Template
}

// NewTemplates parses the comment and opt-out bodies. Empty strings select the
// defaults.
func NewTemplates(commentText, optOutText string) (*Templates, error) {
	if commentText == "" {
		commentText = DefaultCommentTemplate
	}
	if optOutText == "" {
		optOutText = DefaultOptOutTemplate
	}

	comment, err := template.New("comment").Option("missingkey=error").Parse(commentText)
	if err != nil {
		return nil, fmt.Errorf("parse comment template: %w", err)
	}
	optOut, err := template.New("opt_out").Option("missingkey=error").Parse(optOutText)
	if err != nil {
		return nil, fmt.Errorf("parse opt-out template: %w", err)
	}
	footer := template.Must(template.New("footer").Parse(footerTemplate))

	return &Templates{comment: comment, optOut: optOut, footer: footer}, nil
}

// CommentReply renders the reply to a matching comment.
func (t *Templates) CommentReply(data ReplyData, footer FooterData) (string, error) {
	return t.render(t.comment, data, footer)
}

// OptOutReply renders the opt-out confirmation.
func (t *Templates) OptOutReply(data ReplyData, footer FooterData) (string, error) {
	return t.render(t.optOut, data, footer)
}

func (t *Templates) render(body *template.Template, data ReplyData, footer FooterData) (string, error) {
	var buf bytes.Buffer
	if err := body.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", body.Name(), err)
	}
	if err := t.footer.Execute(&buf, footer); err != nil {
		return "", fmt.Errorf("render footer: %w", err)
	}
	return buf.String(), nil
}

// NewFooterData addresses the footer to the session's identity: the owner is
// mentioned and the unsubscribe link opens a message to the bot carrying the
// opt-out marker.
func NewFooterData(session platform.Session, owner, optOutMarker string) FooterData {
	return FooterData{
		OwnerMention:   session.Mention(owner),
		UnsubscribeURL: session.ComposeURL(session.Identity(), optOutMarker, optOutMarker),
	}
}
