// Package registrar drives one event page from landing to submitted registration.
//
// Register opens a page, checks whether the owner already holds a spot, clicks the event's
// register call-to-action, hands the form that opens to the form engine, then records and
// announces the outcome. RegisterAll runs independent events concurrently, one page each.
package registrar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/FormPipe/internal/form"
	"github.com/BTreeMap/FormPipe/internal/models"
	"github.com/BTreeMap/FormPipe/internal/notify"
	"github.com/BTreeMap/FormPipe/internal/page"
	"github.com/BTreeMap/FormPipe/internal/store"
)

var (
	// ErrCTANotFound means the landing page never showed a register button.
	ErrCTANotFound = errors.New("register button not found")
	// ErrFormNotFound means clicking the register button did not open a form.
	ErrFormNotFound = errors.New("registration form did not open")
)

// Default selectors and waits.
const (
	DefaultCTASelector       = `button, a, [role="button"]`
	DefaultStatusSelector    = `h1, h2, h3, h4, [class*="status"], [class*="title"], span, p`
	DefaultContainerSelector = `[role="dialog"], [aria-modal="true"], form`
	DefaultLandingTimeout    = 15 * time.Second
	DefaultFormTimeout       = 10 * time.Second
)

// ctaTexts are the button captions that start a registration, compared case-insensitively after
// sanitizing.
var ctaTexts = []string{
	"Register",
	"Request to Join",
	"Join Event",
	"Join Waitlist",
	"RSVP",
	"One-Click RSVP",
	"Get Tickets",
	"Sign Up",
	"Apply",
}

// Opts holds configuration options for a Registrar.
type Opts struct {
	Oracle            form.Oracle
	EngineOptions     []form.Option
	Store             store.Store
	Notifier          notify.Notifier
	CTASelector       string
	StatusSelector    string
	ContainerSelector string
	LandingTimeout    time.Duration // landing page to show a status or a register button
	FormTimeout       time.Duration // form container to appear after the click
	NavigationTimeout time.Duration
}

// Option configures a Registrar.
type Option func(*Opts)

// WithOracle sets the oracle the engine asks for unresolved fields.
func WithOracle(o form.Oracle) Option {
	return func(opts *Opts) { opts.Oracle = o }
}

// WithEngineOptions passes options through to every engine the registrar builds.
func WithEngineOptions(o ...form.Option) Option {
	return func(opts *Opts) { opts.EngineOptions = append(opts.EngineOptions, o...) }
}

// WithStore records outcomes and snapshots in st.
func WithStore(st store.Store) Option {
	return func(opts *Opts) { opts.Store = st }
}

// WithNotifier announces every outcome through n.
func WithNotifier(n notify.Notifier) Option {
	return func(opts *Opts) { opts.Notifier = n }
}

// WithSelectors overrides the landing page selectors. Empty values keep the defaults.
func WithSelectors(cta, status, container string) Option {
	return func(opts *Opts) {
		if cta != "" {
			opts.CTASelector = cta
		}
		if status != "" {
			opts.StatusSelector = status
		}
		if container != "" {
			opts.ContainerSelector = container
		}
	}
}

// WithTimeouts sets the landing, form and navigation waits. Zero values keep the defaults.
func WithTimeouts(landing, formOpen, navigation time.Duration) Option {
	return func(opts *Opts) {
		if landing > 0 {
			opts.LandingTimeout = landing
		}
		if formOpen > 0 {
			opts.FormTimeout = formOpen
		}
		if navigation > 0 {
			opts.NavigationTimeout = navigation
		}
	}
}

// Registrar registers the owner for events.
type Registrar struct {
	backend page.Backend
	profile form.Profile
	opts    Opts
}

// New creates a registrar. Without a store, outcomes live in memory; without a notifier they are
// only logged.
func New(backend page.Backend, profile form.Profile, opts ...Option) *Registrar {
	o := Opts{
		CTASelector:       DefaultCTASelector,
		StatusSelector:    DefaultStatusSelector,
		ContainerSelector: DefaultContainerSelector,
		LandingTimeout:    DefaultLandingTimeout,
		FormTimeout:       DefaultFormTimeout,
		NavigationTimeout: page.DefaultNavigationTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Store == nil {
		o.Store = store.NewInMemoryStore()
	}
	if o.Notifier == nil {
		o.Notifier = notify.Log{}
	}
	return &Registrar{backend: backend, profile: profile, opts: o}
}

// Register runs one registration. The outcome is always recorded and announced; the error is
// non-nil exactly when the outcome is not a success.
func (r *Registrar) Register(ctx context.Context, url string) (models.Outcome, error) {
	out := models.Outcome{ID: uuid.NewString(), URL: url}
	err := r.register(ctx, &out)
	if err != nil && out.Status == "" {
		out.Status = models.OutcomeError
	}
	if err != nil && out.Reason == "" {
		out.Reason = err.Error()
	}
	out.CreatedAt = time.Now().UTC()
	r.finish(ctx, out)
	return out, err
}

func (r *Registrar) register(ctx context.Context, out *models.Outcome) error {
	pg, err := r.backend.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if err := pg.Close(); err != nil {
			slog.Warn("Registrar.register: close page failed", "url", out.URL, "error", err)
		}
	}()

	navCtx, cancel := context.WithTimeout(ctx, r.opts.NavigationTimeout)
	err = pg.Navigate(navCtx, out.URL)
	cancel()
	if err != nil {
		return fmt.Errorf("navigate: %w", err)
	}

	registered, cta, err := r.landing(ctx, pg)
	if registered {
		slog.Info("Registrar.register: already registered", "url", out.URL)
		out.Status = models.OutcomeAlreadyRegistered
		return nil
	}
	if err != nil {
		r.snapshot(ctx, pg, out.URL, "register button not found")
		return fmt.Errorf("%w: %v", ErrCTANotFound, err)
	}

	if err := cta.Click(ctx); err != nil {
		return fmt.Errorf("click register button: %w", err)
	}
	container, err := pg.WaitVisible(ctx, r.opts.ContainerSelector, r.opts.FormTimeout)
	if err != nil {
		r.snapshot(ctx, pg, out.URL, "registration form did not open")
		return fmt.Errorf("%w: %v", ErrFormNotFound, err)
	}

	engineOpts := append(append([]form.Option(nil), r.opts.EngineOptions...),
		form.WithDiagnosticSink(snapshotSink{st: r.opts.Store, url: out.URL}))
	result, err := form.NewEngine(r.opts.Oracle, engineOpts...).Run(ctx, pg, container, r.profile)
	out.Values = result.Values
	out.Failures = result.Failures
	out.Reason = result.Reason
	if err != nil {
		out.Status = models.OutcomeFormFailed
		return err
	}
	out.Status = models.OutcomeRegistered
	return nil
}

// landing waits until the page shows either a registration status or a register button.
func (r *Registrar) landing(ctx context.Context, pg page.Page) (bool, page.Element, error) {
	var registered bool
	var cta page.Element
	err := page.WaitUntil(ctx, r.opts.LandingTimeout, page.DefaultPollInterval, func() (bool, error) {
		if r.showsRegisteredStatus(ctx, pg) {
			registered = true
			return true, nil
		}
		if el, ok := r.findCTA(ctx, pg); ok {
			cta = el
			return true, nil
		}
		return false, nil
	})
	return registered, cta, err
}

func (r *Registrar) showsRegisteredStatus(ctx context.Context, pg page.Page) bool {
	els, err := pg.Query(ctx, r.opts.StatusSelector)
	if err != nil {
		return false
	}
	for _, el := range page.VisibleOnly(ctx, els) {
		text, err := el.Text(ctx)
		if err == nil && form.IsRegisteredStatus(text) {
			return true
		}
	}
	return false
}

func (r *Registrar) findCTA(ctx context.Context, pg page.Page) (page.Element, bool) {
	els, err := pg.Query(ctx, r.opts.CTASelector)
	if err != nil {
		return nil, false
	}
	for _, el := range page.VisibleOnly(ctx, els) {
		text, err := el.Text(ctx)
		if err == nil && IsCTAText(text) {
			return el, true
		}
	}
	return nil, false
}

// IsCTAText reports whether a button caption starts a registration.
func IsCTAText(text string) bool {
	t := form.Sanitize(text)
	for _, c := range ctaTexts {
		if strings.EqualFold(t, c) {
			return true
		}
	}
	return false
}

func (r *Registrar) snapshot(ctx context.Context, pg page.Page, url, reason string) {
	markup, err := pg.HTML(ctx)
	if err != nil {
		slog.Warn("Registrar.snapshot: page markup unavailable", "url", url, "error", err)
		return
	}
	snapshotSink{st: r.opts.Store, url: url}.Snapshot(reason, markup)
}

func (r *Registrar) finish(ctx context.Context, out models.Outcome) {
	if err := r.opts.Store.AddOutcome(out); err != nil {
		slog.Error("Registrar.finish: record outcome failed", "url", out.URL, "error", err)
	}
	if err := r.opts.Notifier.Notify(ctx, out); err != nil {
		slog.Warn("Registrar.finish: notify failed", "url", out.URL, "error", err)
	}
	slog.Info("Registrar.finish: registration finished", "url", out.URL, "status", out.Status, "id", out.ID)
}

// RegisterAll registers for every URL with at most parallel flows at a time. Outcomes are
// returned in input order; the error joins the failures of individual registrations.
func (r *Registrar) RegisterAll(ctx context.Context, urls []string, parallel int) ([]models.Outcome, error) {
	if parallel <= 0 {
		parallel = 1
	}
	outcomes := make([]models.Outcome, len(urls))
	errs := make([]error, len(urls))

	var g errgroup.Group
	g.SetLimit(parallel)
	for i, url := range urls {
		g.Go(func() error {
			out, err := r.Register(ctx, url)
			outcomes[i] = out
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", url, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, errors.Join(errs...)
}

// HandleJob is the store.JobHandler for registration jobs. It returns the outcome id. Only
// failures before the form opened are retried; a form that was filled is never resubmitted.
func (r *Registrar) HandleJob(ctx context.Context, payload string) (string, error) {
	var p models.RegistrationPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return "", fmt.Errorf("decode registration payload: %w", err)
	}
	if p.URL == "" {
		return "", models.ErrEmptyURL
	}
	out, err := r.Register(ctx, p.URL)
	if err != nil && out.Status == models.OutcomeError {
		return out.ID, err
	}
	return out.ID, nil
}

// snapshotSink stores engine snapshots against the event URL.
type snapshotSink struct {
	st  store.Store
	url string
}

func (s snapshotSink) Snapshot(reason, markup string) {
	snap := models.Snapshot{URL: s.url, Reason: reason, HTML: markup, CreatedAt: time.Now().UTC()}
	if _, err := s.st.AddSnapshot(snap); err != nil {
		slog.Warn("snapshotSink.Snapshot: store failed", "url", s.url, "reason", reason, "error", err)
	}
}
