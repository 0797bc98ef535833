package meeting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"consultation-service/internal/domain"
)

// GoogleOAuthConfig returns the OAuth2 config sellers use to connect their
// calendar, or nil when any setting is missing.
func GoogleOAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	if clientID == "" || clientSecret == "" || redirectURL == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{calendar.CalendarEventsScope},
		Endpoint:     google.Endpoint,
	}
}

// GoogleCalendar creates events with a Google Meet conference on the
// seller's primary calendar.
type GoogleCalendar struct {
	config     *oauth2.Config
	calendarID string
}

func NewGoogleCalendar(config *oauth2.Config) *GoogleCalendar {
	return &GoogleCalendar{config: config, calendarID: "primary"}
}

func (g *GoogleCalendar) CreateMeeting(ctx context.Context, tok *oauth2.Token, req Request) (domain.MeetingLink, error) {
	var ts oauth2.TokenSource = oauth2.StaticTokenSource(tok)
	if g.config != nil {
		ts = g.config.TokenSource(ctx, tok)
	}
	srv, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return domain.MeetingLink{}, fmt.Errorf("create calendar service: %w", err)
	}

	event := &calendar.Event{
		Summary:     req.Summary,
		Description: req.Description,
		Start:       &calendar.EventDateTime{DateTime: req.Start.Format(time.RFC3339), TimeZone: req.Timezone},
		End:         &calendar.EventDateTime{DateTime: req.End.Format(time.RFC3339), TimeZone: req.Timezone},
		ConferenceData: &calendar.ConferenceData{
			CreateRequest: &calendar.CreateConferenceRequest{
				RequestId:             req.BookingID,
				ConferenceSolutionKey: &calendar.ConferenceSolutionKey{Type: "hangoutsMeet"},
			},
		},
	}
	for _, email := range req.Attendees {
		event.Attendees = append(event.Attendees, &calendar.EventAttendee{Email: email})
	}

	created, err := srv.Events.Insert(g.calendarID, event).
		ConferenceDataVersion(1).
		SendUpdates("all").
		Context(ctx).
		Do()
	if err != nil {
		return domain.MeetingLink{}, err
	}

	link := meetURL(created)
	if link == "" {
		return domain.MeetingLink{}, errors.New("calendar event has no conference link")
	}
	return domain.MeetingLink{URL: link, ExternalEventID: created.Id}, nil
}

func meetURL(ev *calendar.Event) string {
	if ev.HangoutLink != "" {
		return ev.HangoutLink
	}
	if ev.ConferenceData == nil {
		return ""
	}
	for _, ep := range ev.ConferenceData.EntryPoints {
		if ep.EntryPointType == "video" && ep.Uri != "" {
			return ep.Uri
		}
	}
	return ""
}
