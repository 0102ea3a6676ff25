package mailer

import (
	"fmt"
	"html/template"
	"strings"

	"github.com/atelierluna/fulfillment/internal/domain/order"
)

var confirmationHTML = template.Must(template.New("confirmation").Parse(`<html>
<body>
<p>Bună, {{.FirstName}}!</p>
<p>Îți mulțumim pentru comanda <strong>{{.Number}}</strong>.</p>
<table>
{{range .Items}}<tr><td>{{.Name}}{{if .Size}} ({{.Size}}){{end}}</td><td>{{.Quantity}} × {{.UnitPrice}} RON</td></tr>
{{end}}</table>
<p>Total: <strong>{{.Total}} RON</strong></p>
{{if .CashOnDelivery}}<p>Plata se face ramburs, la livrare.</p>{{end}}
{{if .TrackingID}}<p>AWB: {{.TrackingID}} ({{.CourierName}})</p>{{end}}
<p>Echipa Atelier Luna</p>
</body>
</html>`))

type confirmationData struct {
	FirstName      string
	Number         string
	Items          []order.LineItem
	Total          string
	CashOnDelivery bool
	TrackingID     string
	CourierName    string
}

// OrderConfirmation composes the customer-facing confirmation email. The
// invoice attachment, when available, is added by the Notifier.
func OrderConfirmation(o *order.Order) (Message, error) {
	data := confirmationData{
		FirstName:      o.Shipping.FirstName,
		Number:         o.Number,
		Items:          o.Items,
		Total:          o.Total.StringFixed(2),
		CashOnDelivery: o.PaymentMethod == order.MethodCashOnDelivery,
		TrackingID:     o.TrackingID,
		CourierName:    o.CourierName,
	}

	var html strings.Builder
	if err := confirmationHTML.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("render confirmation: %w", err)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Buna, %s!\n\nIti multumim pentru comanda %s.\n\n", data.FirstName, data.Number)
	for _, it := range o.Items {
		fmt.Fprintf(&text, "- %s x%d: %s RON\n", it.Name, it.Quantity, it.LineTotal().StringFixed(2))
	}
	fmt.Fprintf(&text, "\nTotal: %s RON\n", data.Total)
	if data.TrackingID != "" {
		fmt.Fprintf(&text, "AWB: %s (%s)\n", data.TrackingID, data.CourierName)
	}

	return Message{
		To:      o.Shipping.Email,
		Subject: fmt.Sprintf("Confirmare comandă %s", o.Number),
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}

// AdminAlert composes the new-order notification for the shop admin,
// including degraded-shipment details that need manual handling.
func AdminAlert(o *order.Order, adminEmail string) Message {
	var text strings.Builder
	fmt.Fprintf(&text, "Comanda noua %s\n\n", o.Number)
	fmt.Fprintf(&text, "Client: %s <%s>\n", o.Shipping.RecipientName(), o.Shipping.Email)
	fmt.Fprintf(&text, "Telefon: %s\n", o.Shipping.Phone)
	fmt.Fprintf(&text, "Total: %s RON (%s)\n", o.Total.StringFixed(2), o.PaymentMethod)
	fmt.Fprintf(&text, "Status: %s\n", o.Status)
	switch {
	case o.Status == order.StatusShipmentFailed:
		text.WriteString("\nATENTIE: expedierea a esuat, necesita procesare manuala.\n")
	case o.TrackingID != "":
		fmt.Fprintf(&text, "AWB: %s (%s)\n", o.TrackingID, o.CourierName)
	}

	return Message{
		To:      adminEmail,
		Subject: fmt.Sprintf("Comandă nouă %s", o.Number),
		Text:    text.String(),
	}
}
