package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

const confirmSubject = "Confirm your address book account"

var confirmTmpl = template.Must(template.New("confirmation").Parse(`<html>
<body>
<p>Hi {{.Username}},</p>
<p>Welcome to your address book. Follow the link below to confirm your email address:</p>
<p><a href="{{.Link}}">Confirm my account</a></p>
<p>If you did not sign up, ignore this message.</p>
</body>
</html>
`))

// Confirmation builds the account confirmation message for a freshly
// registered user, pointing at the confirm endpoint under baseURL.
func Confirmation(to, username, baseURL, token string) (Message, error) {
	data := struct {
		Username string
		Link     string
	}{
		Username: username,
		Link:     strings.TrimRight(baseURL, "/") + "/api/auth/confirm/" + token,
	}

	var body bytes.Buffer
	if err := confirmTmpl.Execute(&body, data); err != nil {
		return Message{}, fmt.Errorf("render confirmation mail: %w", err)
	}
	return Message{To: to, Subject: confirmSubject, HTML: body.String()}, nil
}
