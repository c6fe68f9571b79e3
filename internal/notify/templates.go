package notify

import (
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

// ResetSubject is the subject line of the password reset e-mail.
const ResetSubject = "Password Reset Request"

var resetText = texttemplate.Must(texttemplate.New("reset.txt").Parse(
	`Hello {{.Username}},

You are receiving this because you (or someone else) requested a password reset for your account.

Open the following link to choose a new password:

{{.Link}}

The link expires in {{.TTL}}. If you did not request this, ignore this e-mail and your password will remain unchanged.
`))

// html/template escapes Username and Link for their contexts.
var resetHTML = htmltemplate.Must(htmltemplate.New("reset.html").Parse(
	`<p>Hello {{.Username}},</p>
<p>You are receiving this because you (or someone else) requested a password reset for your account.</p>
<p><a href="{{.Link}}">Choose a new password</a></p>
<p>The link expires in {{.TTL}}. If you did not request this, ignore this e-mail and your password will remain unchanged.</p>
`))

// ResetEmail holds the values the reset templates render.
type ResetEmail struct {
	Username string
	Link     string
	TTL      string
}

// Render builds the reset message for to.
func (e ResetEmail) Render(to string) (Message, error) {
	var text, html strings.Builder
	if err := resetText.Execute(&text, e); err != nil {
		return Message{}, err
	}
	if err := resetHTML.Execute(&html, e); err != nil {
		return Message{}, err
	}
	return Message{
		To:      to,
		Subject: ResetSubject,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
