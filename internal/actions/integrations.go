package actions

import "context"

// CalendarClient creates and deletes calendar events in an external calendar.
type CalendarClient interface {
	CreateEvent(ctx context.Context, event CalendarEventPayload) (string, error)
	DeleteEvent(ctx context.Context, eventID string) error
}

// Mailer delivers email messages.
type Mailer interface {
	Send(ctx context.Context, message EmailPayload) (string, error)
}

// FileStore moves and copies files in external storage.
type FileStore interface {
	Move(ctx context.Context, source, destination string) error
	Copy(ctx context.Context, source, destination string) error
}

// StoredDocument describes a document persisted by a DocumentStore.
type StoredDocument struct {
	ID  string
	URL string
}

// DocumentStore creates and deletes documents.
type DocumentStore interface {
	Create(ctx context.Context, doc DocumentPayload, contentType string) (StoredDocument, error)
	Delete(ctx context.Context, documentID string) error
}

// PaymentGateway moves money and places orders.
type PaymentGateway interface {
	Charge(ctx context.Context, payment PaymentPayload) (string, error)
	Refund(ctx context.Context, transactionID string) error
	Purchase(ctx context.Context, purchase PurchasePayload) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
}
