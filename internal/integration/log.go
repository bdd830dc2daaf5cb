// Package integration provides adapters for the external systems actions talk to.
package integration

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-action-engine/internal/actions"
)

// LogCalendar records calendar events in memory and logs every call.
type LogCalendar struct {
	mu     sync.Mutex
	events map[string]actions.CalendarEventPayload
	logger zerolog.Logger
}

// NewLogCalendar constructs a LogCalendar.
func NewLogCalendar(logger zerolog.Logger) *LogCalendar {
	return &LogCalendar{
		events: make(map[string]actions.CalendarEventPayload),
		logger: logger.With().Str("component", "calendar_log").Logger(),
	}
}

func (c *LogCalendar) CreateEvent(_ context.Context, event actions.CalendarEventPayload) (string, error) {
	id := "evt_" + uuid.NewString()

	c.mu.Lock()
	c.events[id] = event
	c.mu.Unlock()

	c.logger.Info().
		Str("event_id", id).
		Str("title", event.Title).
		Time("start", event.Start).
		Time("end", event.End).
		Int("attendees", len(event.Attendees)).
		Msg("calendar event created")
	return id, nil
}

func (c *LogCalendar) DeleteEvent(_ context.Context, eventID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.events[eventID]; !ok {
		return fmt.Errorf("calendar event %s not found", eventID)
	}
	delete(c.events, eventID)

	c.logger.Info().Str("event_id", eventID).Msg("calendar event deleted")
	return nil
}

// LogMailer logs outgoing email instead of delivering it.
type LogMailer struct {
	logger zerolog.Logger
}

// NewLogMailer constructs a LogMailer.
func NewLogMailer(logger zerolog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With().Str("component", "mailer_log").Logger()}
}

func (m *LogMailer) Send(_ context.Context, message actions.EmailPayload) (string, error) {
	id := "<" + uuid.NewString() + "@actions.local>"
	m.logger.Info().
		Str("message_id", id).
		Strs("to", maskAddresses(message.To)).
		Int("cc", len(message.Cc)).
		Int("bcc", len(message.Bcc)).
		Str("subject", message.Subject).
		Msg("email sent")
	return id, nil
}

// LogFileStore tracks file locations in memory. Paths that were never seen
// are treated as existing so moves of pre-existing files succeed.
type LogFileStore struct {
	mu      sync.Mutex
	removed map[string]struct{}
	logger  zerolog.Logger
}

// NewLogFileStore constructs a LogFileStore.
func NewLogFileStore(logger zerolog.Logger) *LogFileStore {
	return &LogFileStore{
		removed: make(map[string]struct{}),
		logger:  logger.With().Str("component", "file_store_log").Logger(),
	}
}

func (s *LogFileStore) Move(_ context.Context, source, destination string) error {
	source, destination = cleanPath(source), cleanPath(destination)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, gone := s.removed[source]; gone {
		return fmt.Errorf("file %s does not exist", source)
	}
	s.removed[source] = struct{}{}
	delete(s.removed, destination)

	s.logger.Info().Str("source", source).Str("destination", destination).Msg("file moved")
	return nil
}

func (s *LogFileStore) Copy(_ context.Context, source, destination string) error {
	source, destination = cleanPath(source), cleanPath(destination)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, gone := s.removed[source]; gone {
		return fmt.Errorf("file %s does not exist", source)
	}
	delete(s.removed, destination)

	s.logger.Info().Str("source", source).Str("destination", destination).Msg("file copied")
	return nil
}

// LogDocumentStore keeps documents in memory.
type LogDocumentStore struct {
	mu      sync.Mutex
	docs    map[string]actions.DocumentPayload
	baseURL string
	logger  zerolog.Logger
}

// NewLogDocumentStore constructs a LogDocumentStore. baseURL prefixes the
// returned document links.
func NewLogDocumentStore(baseURL string, logger zerolog.Logger) *LogDocumentStore {
	return &LogDocumentStore{
		docs:    make(map[string]actions.DocumentPayload),
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With().Str("component", "document_store_log").Logger(),
	}
}

func (s *LogDocumentStore) Create(_ context.Context, doc actions.DocumentPayload, contentType string) (actions.StoredDocument, error) {
	id := "doc_" + uuid.NewString()

	s.mu.Lock()
	s.docs[id] = doc
	s.mu.Unlock()

	s.logger.Info().
		Str("document_id", id).
		Str("title", doc.Title).
		Str("content_type", contentType).
		Int("bytes", len(doc.Content)).
		Msg("document created")

	return actions.StoredDocument{ID: id, URL: s.baseURL + "/documents/" + id}, nil
}

func (s *LogDocumentStore) Delete(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.docs[documentID]; !ok {
		return fmt.Errorf("document %s not found", documentID)
	}
	delete(s.docs, documentID)

	s.logger.Info().Str("document_id", documentID).Msg("document deleted")
	return nil
}

// LogPaymentGateway logs charges and purchases without moving money.
type LogPaymentGateway struct {
	logger zerolog.Logger
}

// NewLogPaymentGateway constructs a LogPaymentGateway.
func NewLogPaymentGateway(logger zerolog.Logger) *LogPaymentGateway {
	return &LogPaymentGateway{logger: logger.With().Str("component", "payment_log").Logger()}
}

func (g *LogPaymentGateway) Charge(_ context.Context, payment actions.PaymentPayload) (string, error) {
	id := "txn_" + uuid.NewString()
	g.logger.Info().
		Str("transaction_id", id).
		Int64("amount", payment.Amount).
		Str("currency", payment.Currency).
		Str("recipient", payment.Recipient).
		Msg("payment charged")
	return id, nil
}

func (g *LogPaymentGateway) Refund(_ context.Context, transactionID string) error {
	g.logger.Info().Str("transaction_id", transactionID).Msg("payment refunded")
	return nil
}

func (g *LogPaymentGateway) Purchase(_ context.Context, purchase actions.PurchasePayload) (string, error) {
	id := "ord_" + uuid.NewString()
	g.logger.Info().
		Str("order_id", id).
		Str("item", purchase.Item).
		Int64("amount", purchase.Amount).
		Str("currency", purchase.Currency).
		Str("merchant", purchase.Merchant).
		Msg("purchase placed")
	return id, nil
}

func (g *LogPaymentGateway) CancelOrder(_ context.Context, orderID string) error {
	g.logger.Info().Str("order_id", orderID).Msg("order cancelled")
	return nil
}

func cleanPath(p string) string {
	return strings.TrimRight(strings.TrimSpace(p), "/")
}

var (
	_ actions.CalendarClient = (*LogCalendar)(nil)
	_ actions.Mailer         = (*LogMailer)(nil)
	_ actions.FileStore      = (*LogFileStore)(nil)
	_ actions.DocumentStore  = (*LogDocumentStore)(nil)
	_ actions.PaymentGateway = (*LogPaymentGateway)(nil)
)
