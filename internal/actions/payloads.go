package actions

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-action-engine/internal/models"
)

// Payload is implemented by every typed action payload. The set of implementations is closed.
type Payload interface {
	ActionType() models.ActionType
}

// CalendarEventPayload creates a calendar event.
type CalendarEventPayload struct {
	Title       string    `json:"title" validate:"required,max=255"`
	Start       time.Time `json:"start" validate:"required"`
	End         time.Time `json:"end" validate:"required,gtfield=Start"`
	Attendees   []string  `json:"attendees,omitempty" validate:"omitempty,max=100,dive,email"`
	Location    string    `json:"location,omitempty" validate:"max=255"`
	Description string    `json:"description,omitempty" validate:"max=5000"`
}

func (CalendarEventPayload) ActionType() models.ActionType { return models.ActionCreateCalendarEvent }

// CalendarEventRollback identifies the event to delete.
type CalendarEventRollback struct {
	EventID string `json:"event_id"`
}

// AddressList accepts either a single address or a list of addresses.
type AddressList []string

func (l *AddressList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = AddressList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*l = many
	return nil
}

// EmailPayload sends an email.
type EmailPayload struct {
	To      AddressList `json:"to" validate:"required,min=1,max=50,dive,email"`
	Cc      AddressList `json:"cc,omitempty" validate:"omitempty,max=50,dive,email"`
	Bcc     AddressList `json:"bcc,omitempty" validate:"omitempty,max=50,dive,email"`
	Subject string      `json:"subject" validate:"required,max=998"`
	Body    string      `json:"body" validate:"required"`
}

func (EmailPayload) ActionType() models.ActionType { return models.ActionSendEmail }

// Recipients returns every address the message is delivered to.
func (p EmailPayload) Recipients() []string {
	all := make([]string, 0, len(p.To)+len(p.Cc)+len(p.Bcc))
	all = append(all, p.To...)
	all = append(all, p.Cc...)
	return append(all, p.Bcc...)
}

// EmailRollback documents a sent message. Email cannot be recalled.
type EmailRollback struct {
	MessageID  string    `json:"message_id"`
	Recipients []string  `json:"recipients"`
	Subject    string    `json:"subject"`
	SentAt     time.Time `json:"sent_at"`
}

// MoveFilePayload moves a file between two paths.
type MoveFilePayload struct {
	Source       string `json:"source" validate:"required,max=1024"`
	Destination  string `json:"destination" validate:"required,max=1024,nefield=Source"`
	CreateBackup bool   `json:"create_backup,omitempty"`
}

func (MoveFilePayload) ActionType() models.ActionType { return models.ActionMoveFile }

// MoveFileRollback records where the file went so it can be moved back.
type MoveFileRollback struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	BackupPath  string `json:"backup_path,omitempty"`
}

// Document formats accepted by create_document.
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
	FormatText     = "text"
)

// DocumentPayload creates a document.
type DocumentPayload struct {
	Title   string `json:"title" validate:"required,max=255"`
	Content string `json:"content" validate:"required"`
	Format  string `json:"format" validate:"required,oneof=markdown html text"`
}

func (DocumentPayload) ActionType() models.ActionType { return models.ActionCreateDocument }

// DocumentRollback identifies the document to delete.
type DocumentRollback struct {
	DocumentID string `json:"document_id"`
}

// PaymentPayload transfers money. Amount is expressed in minor currency units.
type PaymentPayload struct {
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Currency  string `json:"currency" validate:"required,len=3,uppercase"`
	Recipient string `json:"recipient" validate:"required,max=255"`
	Memo      string `json:"memo,omitempty" validate:"max=500"`
}

func (PaymentPayload) ActionType() models.ActionType { return models.ActionMakePayment }

// PaymentRollback identifies the transaction to refund.
type PaymentRollback struct {
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
}

// PurchasePayload buys an item from a merchant. Amount is expressed in minor currency units.
type PurchasePayload struct {
	Item     string `json:"item" validate:"required,max=255"`
	Quantity int    `json:"quantity,omitempty" validate:"omitempty,min=1,max=1000"`
	Amount   int64  `json:"amount" validate:"required,gt=0"`
	Currency string `json:"currency" validate:"required,len=3,uppercase"`
	Merchant string `json:"merchant" validate:"required,max=255"`
}

func (PurchasePayload) ActionType() models.ActionType { return models.ActionMakePurchase }

// PurchaseRollback identifies the order to cancel.
type PurchaseRollback struct {
	OrderID string `json:"order_id"`
}
