package meeting

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"consultation-service/internal/domain"
	"consultation-service/internal/metrics"
)

var tracer = otel.Tracer("consultation-service/internal/meeting")

type Config struct {
	// Timeout bounds one Provision call, retries included.
	Timeout  time.Duration
	Attempts int
	Backoff  time.Duration
}

func DefaultConfig() Config {
	return Config{Timeout: 20 * time.Second, Attempts: 3, Backoff: 500 * time.Millisecond}
}

type Provisioner struct {
	svc     Service
	creds   CredentialSource
	dir     Directory
	links   LinkStore
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewProvisioner(svc Service, creds CredentialSource, dir Directory, links LinkStore,
	cfg Config, logger *zap.Logger, m *metrics.Metrics) *Provisioner {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	return &Provisioner{svc: svc, creds: creds, dir: dir, links: links, cfg: cfg, logger: logger, metrics: m}
}

// Provision creates a meeting for the job's booking and stores it unless
// the booking already has a link. Every failure wraps
// domain.ErrMeetingProvisioningFailed and leaves the booking untouched.
func (p *Provisioner) Provision(ctx context.Context, job Job) (*domain.MeetingLink, error) {
	ctx, span := tracer.Start(ctx, "meeting.Provision")
	defer span.End()
	span.SetAttributes(attribute.String("booking.id", job.BookingID))

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}
	log := p.logger.With(zap.String("booking_id", job.BookingID), zap.String("seller_id", job.SellerID))

	fail := func(outcome string, err error) (*domain.MeetingLink, error) {
		p.metrics.Provisioning.WithLabelValues(outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		log.Warn("meeting link not provisioned", zap.String("reason", outcome), zap.Error(err))
		return nil, fmt.Errorf("%w: %w", domain.ErrMeetingProvisioningFailed, err)
	}

	b, err := p.links.GetBooking(ctx, job.BookingID)
	if err != nil {
		return fail("store_error", err)
	}
	if b.MeetingLink != nil || b.Status.IsTerminal() {
		p.metrics.Provisioning.WithLabelValues("skipped").Inc()
		log.Info("provisioning not needed", zap.String("status", string(b.Status)), zap.Bool("has_link", b.MeetingLink != nil))
		return nil, nil
	}

	tok, err := p.creds.CalendarToken(ctx, job.SellerID)
	if err != nil {
		return fail("no_credentials", err)
	}
	if !tok.Valid() {
		return fail("no_credentials", fmt.Errorf("%w: token expired", domain.ErrNoCalendarCredentials))
	}

	sellerEmail := p.email(ctx, log, job.SellerID)
	buyerEmail := p.email(ctx, log, job.BuyerID)
	req := Request{
		BookingID:   job.BookingID,
		Summary:     "Consultation",
		Description: "Booking " + job.BookingID,
		Start:       job.Start,
		End:         job.End,
		Timezone:    job.Timezone,
	}
	for _, e := range []string{sellerEmail, buyerEmail} {
		if e != "" {
			req.Attendees = append(req.Attendees, e)
		}
	}

	link, err := p.create(ctx, tok, req, log)
	if err != nil {
		return fail("service_error", err)
	}
	if err := ValidateLink(link.URL); err != nil {
		return fail("invalid_link", err)
	}
	link.SellerInvited = sellerEmail != ""
	link.BuyerInvited = buyerEmail != ""

	stored, err := p.links.SetMeetingLink(ctx, job.BookingID, link, true)
	if err != nil {
		return fail("store_error", err)
	}
	if !stored {
		p.metrics.Provisioning.WithLabelValues("kept_existing").Inc()
		log.Info("booking already has a meeting link, keeping it")
		return nil, nil
	}

	p.metrics.Provisioning.WithLabelValues("created").Inc()
	log.Info("meeting link provisioned", zap.String("external_event_id", link.ExternalEventID))
	return &link, nil
}

func (p *Provisioner) create(ctx context.Context, tok *oauth2.Token, req Request, log *zap.Logger) (domain.MeetingLink, error) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.Attempts; attempt++ {
		link, err := p.svc.CreateMeeting(ctx, tok, req)
		if err == nil {
			return link, nil
		}
		lastErr = err
		if !transient(err) || attempt == p.cfg.Attempts {
			break
		}
		log.Debug("calendar call failed, retrying", zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return domain.MeetingLink{}, errors.Join(lastErr, ctx.Err())
		case <-time.After(p.cfg.Backoff * time.Duration(1<<(attempt-1))):
		}
	}
	return domain.MeetingLink{}, lastErr
}

// email returns "" when the user has no address on file; that party gets
// no invite.
func (p *Provisioner) email(ctx context.Context, log *zap.Logger, userID string) string {
	email, err := p.dir.Email(ctx, userID)
	if err != nil || email == "" {
		log.Warn("no email for attendee, skipping invite", zap.String("user_id", userID), zap.Error(err))
		return ""
	}
	return email
}

// transient reports rate limiting and server-side failures.
func transient(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code == http.StatusTooManyRequests || gerr.Code >= http.StatusInternalServerError
}
