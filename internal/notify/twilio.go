package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/BTreeMap/FormPipe/internal/models"
)

// Twilio channels.
const (
	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"
)

// TwilioOpts holds configuration for the Twilio notifier.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	From       string
	To         string
	Channel    string // sms or whatsapp
}

// TwilioOption configures a Twilio notifier.
type TwilioOption func(*TwilioOpts)

func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFrom sets the sender number, without any whatsapp: prefix.
func WithFrom(from string) TwilioOption {
	return func(o *TwilioOpts) { o.From = from }
}

// WithTo sets the operator's number.
func WithTo(to string) TwilioOption {
	return func(o *TwilioOpts) { o.To = to }
}

// WithChannel selects sms or whatsapp.
func WithChannel(channel string) TwilioOption {
	return func(o *TwilioOpts) { o.Channel = channel }
}

// messageCreator is the part of the Twilio REST API the notifier uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Twilio sends outcome summaries through the Twilio messaging API.
type Twilio struct {
	api     messageCreator
	from    string
	to      string
	channel string
}

// NewTwilio creates a Twilio notifier. Unset options fall back to TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN, TWILIO_FROM_NUMBER, FORMPIPE_NOTIFY_TO and FORMPIPE_NOTIFY_CHANNEL.
func NewTwilio(opts ...TwilioOption) (*Twilio, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	if cfg.To == "" {
		cfg.To = os.Getenv("FORMPIPE_NOTIFY_TO")
	}
	if cfg.Channel == "" {
		cfg.Channel = os.Getenv("FORMPIPE_NOTIFY_CHANNEL")
	}
	if cfg.Channel == "" {
		cfg.Channel = ChannelSMS
	}
	slog.Debug("notify.NewTwilio: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "",
		"channel", cfg.Channel)

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("from number must be provided")
	}
	if cfg.Channel != ChannelSMS && cfg.Channel != ChannelWhatsApp {
		return nil, fmt.Errorf("unknown twilio channel %q", cfg.Channel)
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilio(client.Api, cfg), nil
}

func newTwilio(api messageCreator, cfg TwilioOpts) *Twilio {
	return &Twilio{api: api, from: cfg.From, to: cfg.To, channel: cfg.Channel}
}

// Notify sends the outcome summary to the configured operator number.
func (t *Twilio) Notify(ctx context.Context, o models.Outcome) error {
	if t.to == "" {
		return ErrNoRecipient
	}
	return t.SendText(ctx, t.to, Format(o))
}

// SendText sends body to one number.
func (t *Twilio) SendText(ctx context.Context, to, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(t.address(to))
	params.SetFrom(t.address(t.from))
	params.SetBody(body)

	if _, err := t.api.CreateMessage(params); err != nil {
		slog.Error("Twilio.SendText: create message failed", "to", to, "channel", t.channel, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("Twilio.SendText: message sent", "to", to, "channel", t.channel)
	return nil
}

func (t *Twilio) address(number string) string {
	if t.channel == ChannelWhatsApp && !strings.HasPrefix(number, "whatsapp:") {
		return "whatsapp:" + number
	}
	return number
}
