package jobs

import (
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/spaceplaces/server/internal/locale"
)

// Deps are the collaborators the workers need.
type Deps struct {
	Mailer       Mailer
	Translations TranslationLookup
	Places       PlaceAddressStore
	Geocoder     ReverseGeocoder
	Users        InvitationCleaner
	Cache        CachePurger
	Routes       *locale.Routes
	BaseURL      string
	Language     string
	Logger       *slog.Logger
}

// NewWorkers registers every worker.
func NewWorkers(d Deps) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker[AdminNotificationArgs](workers, AdminNotificationWorker{Mailer: d.Mailer, BaseURL: d.BaseURL, Logger: d.Logger})
	river.AddWorker[DecisionEmailArgs](workers, DecisionEmailWorker{
		Mailer:       d.Mailer,
		Translations: d.Translations,
		Routes:       d.Routes,
		BaseURL:      d.BaseURL,
		Logger:       d.Logger,
	})
	river.AddWorker[InvitationEmailArgs](workers, InvitationEmailWorker{Mailer: d.Mailer})
	river.AddWorker[ReverseGeocodeArgs](workers, ReverseGeocodeWorker{
		Places:   d.Places,
		Geocoder: d.Geocoder,
		Language: d.Language,
		Logger:   d.Logger,
	})
	river.AddWorker[InvitationCleanupArgs](workers, InvitationCleanupWorker{Users: d.Users, Cache: d.Cache, Logger: d.Logger})
	return workers
}
