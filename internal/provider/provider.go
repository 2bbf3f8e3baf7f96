// Package provider builds the configured calendar backend.
package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cpuguy83/calslot/internal/calendar"
	"github.com/cpuguy83/calslot/internal/config"
	"github.com/cpuguy83/calslot/internal/filter"
)

// New creates the calendar provider described by cfg. Errors caused by the
// configuration itself wrap config.ErrInvalid.
//
// The returned provider may hold connections; callers should close it when
// it implements io.Closer.
func New(ctx context.Context, cfg *config.Config) (calendar.Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	f, err := filter.New(cfg.BusyFilters)
	if err != nil {
		return nil, fmt.Errorf("%w: busy_filters: %v", config.ErrInvalid, err)
	}

	p := cfg.Provider
	var src calendar.Provider

	switch p.Type {
	case config.ProviderGoogle:
		opt, err := calendar.GoogleCredentials(ctx, p.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
		}
		src, err = calendar.NewGoogleSource(ctx, p.Name, loc, opt)
		if err != nil {
			return nil, err
		}

	case config.ProviderCalDAV:
		password, err := p.GetPassword()
		if err != nil {
			return nil, err
		}
		src = calendar.NewCalDAVSource(p.Name, p.URL, p.Username, password, loc, p.Horizon, f)

	case config.ProviderICloud:
		password, err := p.GetPassword()
		if err != nil {
			return nil, err
		}
		src = calendar.NewICloudSource(p.Name, p.Username, password, loc, p.Horizon, f)

	case config.ProviderMS365:
		src = calendar.NewMS365Source(p.Name, p.ClientID, p.Horizon, f)

	case config.ProviderICS:
		password, err := p.GetPassword()
		if err != nil {
			return nil, err
		}
		src = calendar.NewICSSource(p.Name, p.URL, p.Username, password, loc, p.Horizon, f)

	case config.ProviderMemory:
		src = calendar.NewMemoryProvider(p.Name, f)

	default:
		return nil, fmt.Errorf("%w: unknown provider type %q", config.ErrInvalid, p.Type)
	}

	slog.Debug("configured calendar provider", "type", p.Type, "name", src.Name(), "calendar", cfg.CalendarID, "filter_rules", len(cfg.BusyFilters.Rules))
	return src, nil
}
