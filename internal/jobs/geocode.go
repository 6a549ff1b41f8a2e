package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/spaceplaces/server/internal/domain/places"
	"github.com/spaceplaces/server/internal/geocoding"
)

type ReverseGeocoder interface {
	Reverse(ctx context.Context, lat, lng float64, language string) (*geocoding.Result, error)
}

// PlaceAddressStore reads a place and writes back its resolved address.
type PlaceAddressStore interface {
	GetByID(ctx context.Context, id int64) (*places.Place, error)
	SetAddress(ctx context.Context, id int64, address string) error
}

type ReverseGeocodeArgs struct {
	PlaceID int64 `json:"place_id"`
}

func (ReverseGeocodeArgs) Kind() string { return JobKindReverseGeocode }

// ReverseGeocodeWorker fills the address of a place created without one.
// It never overwrites an address set in the meantime.
type ReverseGeocodeWorker struct {
	river.WorkerDefaults[ReverseGeocodeArgs]
	Places   PlaceAddressStore
	Geocoder ReverseGeocoder
	Language string
	Logger   *slog.Logger
}

func (w ReverseGeocodeWorker) Work(ctx context.Context, job *river.Job[ReverseGeocodeArgs]) error {
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}
	placeID := job.Args.PlaceID

	place, err := w.Places.GetByID(ctx, placeID)
	if errors.Is(err, places.ErrNotFound) {
		return river.JobCancel(fmt.Errorf("place %d no longer exists", placeID))
	}
	if err != nil {
		return fmt.Errorf("load place %d: %w", placeID, err)
	}
	if place.Address != "" {
		logger.Info("place already has an address, skipping", "place_id", placeID)
		return nil
	}

	res, err := w.Geocoder.Reverse(ctx, place.Latitude, place.Longitude, w.Language)
	switch {
	case errors.Is(err, geocoding.ErrNoResults):
		logger.Info("no address found for place", "place_id", placeID, "lat", place.Latitude, "lng", place.Longitude)
		return nil
	case err != nil:
		return fmt.Errorf("reverse geocode place %d: %w", placeID, err)
	}

	if err := w.Places.SetAddress(ctx, placeID, res.DisplayName); err != nil {
		return fmt.Errorf("store address for place %d: %w", placeID, err)
	}
	logger.Info("place address resolved", "place_id", placeID, "attempt", job.Attempt)
	return nil
}
