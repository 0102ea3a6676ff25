package mailer

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/atelierluna/fulfillment/internal/domain/order"
)

// DocumentFetcher downloads the invoice document for attachment.
// *invoice.Client satisfies it.
type DocumentFetcher interface {
	DownloadDocument(ctx context.Context, url string) ([]byte, error)
}

// Notifier sends the customer confirmation and admin alert for an order.
type Notifier struct {
	mail       API
	documents  DocumentFetcher
	adminEmail string
}

// NewNotifier constructs a Notifier. documents may be nil when invoice
// attachments are not wanted.
func NewNotifier(mail API, documents DocumentFetcher, adminEmail string) *Notifier {
	return &Notifier{mail: mail, documents: documents, adminEmail: adminEmail}
}

// NotifyOrder sends the customer confirmation (with the invoice PDF attached
// when one exists and can be fetched) and the admin alert. The attachment
// fetch and the admin alert are each best-effort: their failure does not
// fail the customer email, and vice versa the customer email failing does
// not stop the admin alert. The returned error reflects the customer email
// only.
func (n *Notifier) NotifyOrder(ctx context.Context, o *order.Order) error {
	lg := zctx.From(ctx)

	msg, err := OrderConfirmation(o)
	if err != nil {
		return errors.Wrap(err, "compose confirmation")
	}

	if o.InvoiceURL != "" && n.documents != nil {
		data, err := n.documents.DownloadDocument(ctx, o.InvoiceURL)
		if err != nil {
			lg.Warn("invoice attachment fetch failed, sending without it",
				zap.String("order_number", o.Number), zap.Error(err))
		} else {
			msg.Attachments = append(msg.Attachments, Attachment{
				Filename:    "factura-" + o.Number + ".pdf",
				ContentType: "application/pdf",
				Data:        data,
			})
		}
	}

	sendErr := n.mail.Send(ctx, msg)
	if sendErr != nil {
		lg.Error("customer confirmation email failed",
			zap.String("order_number", o.Number), zap.Error(sendErr))
	}

	if n.adminEmail != "" {
		if err := n.mail.Send(ctx, AdminAlert(o, n.adminEmail)); err != nil {
			lg.Error("admin alert email failed",
				zap.String("order_number", o.Number), zap.Error(err))
		}
	}

	if sendErr != nil {
		return errors.Wrap(sendErr, "send confirmation")
	}
	return nil
}
