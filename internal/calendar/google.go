package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

var googleTracer trace.Tracer = otel.Tracer("vetsched.internal.calendar.google")

// GoogleProvider talks to the Google Calendar v3 API.
type GoogleProvider struct {
	svc *gcal.Service
}

// NewGoogleProviderFromFiles builds a provider from an OAuth client credentials file and a
// stored token file, the layout produced by the standard installed-app OAuth flow.
func NewGoogleProviderFromFiles(ctx context.Context, credentialsFile, tokenFile string) (*GoogleProvider, error) {
	creds, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read calendar credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(creds, gcal.CalendarEventsScope)
	if err != nil {
		return nil, fmt.Errorf("parse calendar credentials: %w", err)
	}

	raw, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("read calendar token: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("parse calendar token: %w", err)
	}

	return NewGoogleProvider(ctx, option.WithTokenSource(cfg.TokenSource(ctx, &tok)))
}

// NewGoogleProvider builds a provider with explicit client options, e.g. an endpoint override.
func NewGoogleProvider(ctx context.Context, opts ...option.ClientOption) (*GoogleProvider, error) {
	svc, err := gcal.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return &GoogleProvider{svc: svc}, nil
}

func (p *GoogleProvider) CreateEvent(ctx context.Context, calendarID string, ev Event) (string, error) {
	ctx, span := googleTracer.Start(ctx, "google.calendar.insert", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("calendar.id", calendarID), attribute.String("calendar.event_id", ev.ID))

	created, err := p.svc.Events.Insert(calendarID, toGoogleEvent(ev)).Context(ctx).Do()
	if err != nil {
		err = classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return "", err
	}
	return created.Id, nil
}

func (p *GoogleProvider) UpdateEvent(ctx context.Context, calendarID string, ev Event) error {
	ctx, span := googleTracer.Start(ctx, "google.calendar.update", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("calendar.id", calendarID), attribute.String("calendar.event_id", ev.ID))

	if _, err := p.svc.Events.Update(calendarID, ev.ID, toGoogleEvent(ev)).Context(ctx).Do(); err != nil {
		err = classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "update failed")
		return err
	}
	return nil
}

func (p *GoogleProvider) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	ctx, span := googleTracer.Start(ctx, "google.calendar.delete", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("calendar.id", calendarID), attribute.String("calendar.event_id", eventID))

	if err := p.svc.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		err = classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "delete failed")
		return err
	}
	return nil
}

func toGoogleEvent(ev Event) *gcal.Event {
	return &gcal.Event{
		Id:          ev.ID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: ev.TimeZone},
		End:         &gcal.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: ev.TimeZone},
	}
}

// classify maps Google API errors onto the provider-neutral errors.
func classify(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &RetryableError{Err: err}
	}
	switch {
	case gerr.Code == http.StatusConflict:
		return fmt.Errorf("%w: %v", ErrEventExists, gerr)
	case gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone:
		return fmt.Errorf("%w: %v", ErrEventNotFound, gerr)
	case gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500:
		return &RetryableError{Err: gerr}
	case gerr.Code == http.StatusForbidden && isRateLimitReason(gerr):
		return &RetryableError{Err: gerr}
	}
	return gerr
}

func isRateLimitReason(gerr *googleapi.Error) bool {
	for _, item := range gerr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}
