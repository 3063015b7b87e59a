package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"

	"github.com/user/examslots/internal/model"
)

const (
	newSlotSubject      = "New Exam Slot Available!"
	confirmationSubject = "Subscription Confirmed - Exam Slot Notifications"
)

var newSlotTemplate = template.Must(template.New("new_slot").Parse(`<h2>New Exam Slot Available</h2>
<p>A new slot matching your filters has been found:</p>
<ul>
  <li><strong>Date:</strong> {{.Slot.DateStr}}</li>
  <li><strong>Time:</strong> {{.Slot.TimeStr}}</li>
  <li><strong>Location:</strong> {{if .Slot.Location}}{{.Slot.Location}}{{else}}N/A{{end}}</li>
  {{- with .Slot.Town}}
  <li><strong>Town:</strong> {{.}}</li>
  {{- end}}
  <li><strong>Categories:</strong> {{.Slot.Categories}}</li>
  {{- with .Slot.ExamType}}
  <li><strong>Type:</strong> {{.}}</li>
  {{- end}}
  {{- if gt .Slot.PlacesLeft 0}}
  <li><strong>Places left:</strong> {{.Slot.PlacesLeft}}</li>
  {{- end}}
  {{- if .Slot.HasTranslator}}
  <li><strong>With translator</strong></li>
  {{- end}}
</ul>
<p><a href="{{.UnsubscribeURL}}">Unsubscribe from notifications</a></p>
`))

var confirmationTemplate = template.Must(template.New("confirmation").Parse(`<h2>Subscription Confirmed</h2>
<p>You will receive notifications when new exam slots matching your filters appear.</p>
<p><strong>Your filters:</strong></p>
<ul>
  {{- with .Sub.FilterRegion}}
  <li>Region: Območje {{.}}</li>
  {{- end}}
  {{- with .Sub.FilterTown}}
  <li>Town: {{.}}</li>
  {{- end}}
  {{- with .Sub.FilterExamType}}
  <li>Exam type: {{.}}</li>
  {{- end}}
  {{- if .Translator}}
  <li>With translator</li>
  {{- end}}
  {{- with .Sub.FilterCategories}}
  <li>Categories: {{.}}</li>
  {{- end}}
</ul>
<p><a href="{{.UnsubscribeURL}}">Unsubscribe</a></p>
`))

// UnsubscribeURL builds the public unsubscribe link for a token
func UnsubscribeURL(baseURL, token string) string {
	return strings.TrimRight(baseURL, "/") + "/api/unsubscribe?token=" + url.QueryEscape(token)
}

// FormatNewSlotEmail renders the new slot notification for one subscriber
func FormatNewSlotEmail(slot *model.Slot, sub *model.Subscription, baseURL string) (Message, error) {
	var buf bytes.Buffer
	err := newSlotTemplate.Execute(&buf, struct {
		Slot           *model.Slot
		UnsubscribeURL string
	}{slot, UnsubscribeURL(baseURL, sub.UnsubscribeToken)})
	if err != nil {
		return Message{}, fmt.Errorf("failed to render new slot email: %w", err)
	}
	return Message{To: sub.Email, Subject: newSlotSubject, HTML: buf.String()}, nil
}

// FormatConfirmationEmail renders the subscription confirmation
func FormatConfirmationEmail(sub *model.Subscription, baseURL string) (Message, error) {
	var buf bytes.Buffer
	err := confirmationTemplate.Execute(&buf, struct {
		Sub            *model.Subscription
		Translator     bool
		UnsubscribeURL string
	}{
		Sub:            sub,
		Translator:     sub.FilterTranslator != nil && *sub.FilterTranslator,
		UnsubscribeURL: UnsubscribeURL(baseURL, sub.UnsubscribeToken),
	})
	if err != nil {
		return Message{}, fmt.Errorf("failed to render confirmation email: %w", err)
	}
	return Message{To: sub.Email, Subject: confirmationSubject, HTML: buf.String()}, nil
}
