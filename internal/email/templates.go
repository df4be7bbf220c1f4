package email

import (
	"bytes"
	"fmt"
	"html/template"
	texttemplate "text/template"
)

// ReminderLine is one row of the itemized table in a recovery email.
type ReminderLine struct {
	Name      string
	Quantity  int
	UnitPrice float64
	LineTotal float64
}

// ReminderContent is the rendered output for one reminder email.
type ReminderContent struct {
	Subject string
	HTML    string
	Text    string
}

type stageCopy struct {
	Subject  string
	Headline string
	Intro    string
	Body     string
}

// Escalating copy per reminder stage.
var stageCopies = map[int]stageCopy{
	1: {
		Subject:  "You left something in your cart",
		Headline: "Still thinking it over?",
		Intro:    "You left a few things behind. Your cart is saved and ready whenever you are.",
		Body:     "Pick up right where you left off. Your items are waiting for you.",
	},
	2: {
		Subject:  "Your cart is still waiting",
		Headline: "Your cart misses you",
		Intro:    "Just a quick nudge: the items below are still in your cart.",
		Body:     "Popular items can sell out. Complete your order before they're gone.",
	},
	3: {
		Subject:  "Last chance to complete your order",
		Headline: "Last call on your cart",
		Intro:    "This is our final reminder about the items you left behind.",
		Body:     "After this we'll stop writing, promise. Checkout takes less than a minute.",
	},
}

type reminderData struct {
	Name              string
	Headline          string
	Intro             string
	Body              string
	Lines             []ReminderLine
	Total             float64
	TotalFromSnapshot bool
	CheckoutURL       string
}

var reminderHTML = template.Must(template.New("reminder").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>{{.Headline}}</h2>
  <p>Hi {{.Name}},</p>
  <p>{{.Intro}}</p>
  {{if .Lines}}
  <table cellpadding="6" cellspacing="0" border="0" style="border-collapse: collapse;">
    <tr style="border-bottom: 1px solid #ccc;"><th align="left">Item</th><th align="right">Qty</th><th align="right">Price</th><th align="right">Total</th></tr>
    {{range .Lines}}
    <tr><td>{{.Name}}</td><td align="right">{{.Quantity}}</td><td align="right">{{printf "%.2f" .UnitPrice}}</td><td align="right">{{printf "%.2f" .LineTotal}}</td></tr>
    {{end}}
  </table>
  {{end}}
  <p><strong>Cart total: {{printf "%.2f" .Total}}</strong></p>
  <p>{{.Body}}</p>
  <p><a href="{{.CheckoutURL}}" style="background: #111; color: #fff; padding: 10px 18px; text-decoration: none;">Complete your order</a></p>
</body>
</html>`))

var reminderText = texttemplate.Must(texttemplate.New("reminder").Parse(`{{.Headline}}

Hi {{.Name}},

{{.Intro}}

{{range .Lines}}- {{.Name}} x{{.Quantity}} @ {{printf "%.2f" .UnitPrice}} = {{printf "%.2f" .LineTotal}}
{{end}}
Cart total: {{printf "%.2f" .Total}}

{{.Body}}

Complete your order: {{.CheckoutURL}}
`))

// RenderReminder produces the subject and both bodies for the given stage.
// When line pricing could not be resolved, lines is empty and total carries
// the stored cart snapshot instead.
func RenderReminder(stage int, customerName string, lines []ReminderLine, total float64, checkoutURL string) (*ReminderContent, error) {
	sc, ok := stageCopies[stage]
	if !ok {
		return nil, fmt.Errorf("no reminder copy for stage %d", stage)
	}
	if customerName == "" {
		customerName = "there"
	}
	data := reminderData{
		Name:              customerName,
		Headline:          sc.Headline,
		Intro:             sc.Intro,
		Body:              sc.Body,
		Lines:             lines,
		Total:             total,
		TotalFromSnapshot: len(lines) == 0,
		CheckoutURL:       checkoutURL,
	}

	var htmlBuf bytes.Buffer
	if err := reminderHTML.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("failed to render HTML reminder: %w", err)
	}
	var textBuf bytes.Buffer
	if err := reminderText.Execute(&textBuf, data); err != nil {
		return nil, fmt.Errorf("failed to render text reminder: %w", err)
	}

	return &ReminderContent{
		Subject: sc.Subject,
		HTML:    htmlBuf.String(),
		Text:    textBuf.String(),
	}, nil
}

// RenderLowStockAlert builds the plain admin notification listing every item
// an order pushed to or below its threshold.
func RenderLowStockAlert(orderID string, lines []string) (subject, body string) {
	subject = fmt.Sprintf("Low stock alert: %d item(s)", len(lines))
	buf := bytes.Buffer{}
	buf.WriteString("The following items are running low after order " + orderID + ":\n\n")
	for _, l := range lines {
		buf.WriteString("- " + l + "\n")
	}
	return subject, buf.String()
}
