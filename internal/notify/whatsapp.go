package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/store"
)

// JIDSuffix is the WhatsApp JID suffix for regular users.
const JIDSuffix = "s.whatsapp.net"

// WhatsAppOpts holds configuration for the whatsmeow notifier.
type WhatsAppOpts struct {
	DBDSN       string // whatsmeow device store
	QRPath      string // where to write the login QR code; stdout when empty
	NumericCode bool   // print the raw pairing code instead of a QR code
	To          string
}

// WhatsAppOption configures the whatsmeow notifier.
type WhatsAppOption func(*WhatsAppOpts)

// WithDBDSN sets the whatsmeow device store DSN.
func WithDBDSN(dsn string) WhatsAppOption {
	return func(o *WhatsAppOpts) { o.DBDSN = dsn }
}

// WithQRCodeOutput writes the login QR code to path.
func WithQRCodeOutput(path string) WhatsAppOption {
	return func(o *WhatsAppOpts) { o.QRPath = path }
}

// WithNumericCode prints the pairing code instead of a QR code.
func WithNumericCode() WhatsAppOption {
	return func(o *WhatsAppOpts) { o.NumericCode = true }
}

// WithRecipient sets the operator's phone number, digits only.
func WithRecipient(to string) WhatsAppOption {
	return func(o *WhatsAppOpts) { o.To = to }
}

type waSender interface {
	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message, extra ...whatsmeow.SendRequestExtra) (whatsmeow.SendResponse, error)
}

// WhatsApp sends outcome summaries from a linked WhatsApp device.
type WhatsApp struct {
	client     waSender
	disconnect func()
	to         string
}

// NewWhatsApp opens the device store, logs in with a QR code when the device is not yet linked,
// and connects.
func NewWhatsApp(ctx context.Context, opts ...WhatsAppOption) (*WhatsApp, error) {
	var cfg WhatsAppOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.To == "" {
		cfg.To = os.Getenv("FORMPIPE_NOTIFY_TO")
	}
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("whatsapp device store DSN must be provided")
	}

	driver := store.DetectDSNType(cfg.DBDSN)
	if driver == "sqlite3" && !strings.Contains(cfg.DBDSN, "foreign_keys") {
		slog.Warn("notify.NewWhatsApp: SQLite device store without foreign keys; add ?_foreign_keys=on",
			"dsn_example", "file:"+cfg.DBDSN+"?_foreign_keys=on")
	}

	container, err := sqlstore.New(ctx, driver, cfg.DBDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	client := whatsmeow.NewClient(device, waLog.Stdout("Client", "INFO", true))
	if client.Store.ID == nil {
		if err := login(ctx, client, cfg); err != nil {
			return nil, err
		}
	} else if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
	}
	slog.Info("notify.NewWhatsApp: connected")
	return &WhatsApp{client: client, disconnect: client.Disconnect, to: cfg.To}, nil
}

func login(ctx context.Context, client *whatsmeow.Client, cfg WhatsAppOpts) error {
	slog.Info("notify.login: WhatsApp login required; starting QR code flow")
	qrChan, _ := client.GetQRChannel(ctx)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}

	w := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		w = f
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			slog.Info("notify.login: login event", "event", evt.Event)
			continue
		}
		if cfg.NumericCode {
			fmt.Fprintln(w, evt.Code)
		} else {
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, w)
		}
	}
	return nil
}

// Notify sends the outcome summary to the configured recipient.
func (w *WhatsApp) Notify(ctx context.Context, o models.Outcome) error {
	if w.to == "" {
		return ErrNoRecipient
	}
	return w.SendText(ctx, w.to, Format(o))
}

// SendText sends body to one phone number.
func (w *WhatsApp) SendText(ctx context.Context, to, body string) error {
	if w.client == nil {
		return fmt.Errorf("whatsapp client not initialized")
	}
	if to == "" {
		return ErrNoRecipient
	}
	if body == "" {
		return fmt.Errorf("message body cannot be empty")
	}
	jid := types.NewJID(strings.TrimPrefix(to, "+"), JIDSuffix)
	if _, err := w.client.SendMessage(ctx, jid, &waE2E.Message{Conversation: &body}); err != nil {
		slog.Error("WhatsApp.SendText: send failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("WhatsApp.SendText: message sent", "to", to)
	return nil
}

// Close disconnects from the WhatsApp server.
func (w *WhatsApp) Close() error {
	if w.disconnect != nil {
		w.disconnect()
	}
	return nil
}
