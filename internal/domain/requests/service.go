package requests

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/spaceplaces/server/internal/domain/places"
	"github.com/spaceplaces/server/internal/listing"
	"github.com/spaceplaces/server/internal/metrics"
	"github.com/spaceplaces/server/internal/photos"
	"github.com/spaceplaces/server/internal/sanitize"
	"github.com/spaceplaces/server/internal/slug"
	"github.com/spaceplaces/server/internal/validation"
)

const maxReasonLength = 1000

var tracer = otel.Tracer("github.com/spaceplaces/server/internal/domain/requests")

type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

type LanguageDetector interface {
	Detect(ctx context.Context, text string) (string, error)
}

type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

type PhotoStager interface {
	Save(ctx context.Context, files []*multipart.FileHeader) ([]photos.Stored, error)
	Delete(key string) error
}

// PlaceWriter is the part of the places service used on acceptance.
type PlaceWriter interface {
	PrepareTranslations(ctx context.Context, inputs []places.TranslationInput, placeID int64) ([]places.TranslationInput, error)
	Update(ctx context.Context, id int64, params places.UpdateParams) (*places.Place, error)
}

// NewRequestNotice asks for the moderation team to be told about a submission.
type NewRequestNotice struct {
	Kind      Kind
	RequestID int64
	Title     string
	Language  string
}

// Decision asks for a requester to be told how their request was moderated.
type Decision struct {
	Kind      Kind
	RequestID int64
	To        string
	Locale    string
	Accepted  bool
	Title     string
	Reason    string
	PlaceID   *int64
}

// JobEnqueuer schedules the fire-and-forget side effects of moderation.
type JobEnqueuer interface {
	EnqueueNewRequest(ctx context.Context, notice NewRequestNotice) error
	EnqueueDecision(ctx context.Context, decision Decision) error
	EnqueueReverseGeocode(ctx context.Context, placeID int64) error
}

type Deps struct {
	Repo       Repository
	Places     PlaceWriter
	Captcha    CaptchaVerifier
	Detector   LanguageDetector
	Translator Translator
	Photos     PhotoStager
	Jobs       JobEnqueuer
	Locales    []string
	Logger     zerolog.Logger
}

type Service struct {
	repo       Repository
	places     PlaceWriter
	captcha    CaptchaVerifier
	detector   LanguageDetector
	translator Translator
	photos     PhotoStager
	jobs       JobEnqueuer
	locales    []string
	logger     zerolog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		repo:       d.Repo,
		places:     d.Places,
		captcha:    d.Captcha,
		detector:   d.Detector,
		translator: d.Translator,
		photos:     d.Photos,
		jobs:       d.Jobs,
		locales:    d.Locales,
		logger:     d.Logger.With().Str("component", "requests").Logger(),
	}
}

func (s *Service) supported(locale string) bool {
	for _, l := range s.locales {
		if l == locale {
			return true
		}
	}
	return false
}

// MarkViewed records the first admin view. Later views, and views of
// processed requests, change nothing.
func (s *Service) MarkViewed(ctx context.Context, kind Kind, id, actorID int64) error {
	changed, err := s.repo.MarkViewed(ctx, kind, id, actorID)
	if err != nil {
		return fmt.Errorf("mark viewed: %w", err)
	}
	if changed {
		metrics.ModerationTransitionsTotal.WithLabelValues(string(kind), "view", "success").Inc()
		s.logger.Info().Str("kind", string(kind)).Int64("request_id", id).Int64("actor_id", actorID).Msg("request viewed")
		return nil
	}
	if _, err := s.repo.GetModeration(ctx, kind, id); err != nil {
		return err
	}
	return nil
}

// ViewPlaceRequest marks the request viewed and returns it.
func (s *Service) ViewPlaceRequest(ctx context.Context, id, actorID int64) (*PlaceRequest, error) {
	if err := s.MarkViewed(ctx, KindPlace, id, actorID); err != nil {
		return nil, err
	}
	return s.repo.GetPlaceRequest(ctx, id)
}

// ViewEditRequest marks the edit request viewed and returns it.
func (s *Service) ViewEditRequest(ctx context.Context, id, actorID int64) (*EditRequest, error) {
	if err := s.MarkViewed(ctx, KindEdit, id, actorID); err != nil {
		return nil, err
	}
	return s.repo.GetEditRequest(ctx, id)
}

// GetPlaceRequest returns a place request without marking it viewed.
func (s *Service) GetPlaceRequest(ctx context.Context, id int64) (*PlaceRequest, error) {
	return s.repo.GetPlaceRequest(ctx, id)
}

// GetEditRequest returns an edit request without marking it viewed.
func (s *Service) GetEditRequest(ctx context.Context, id int64) (*EditRequest, error) {
	return s.repo.GetEditRequest(ctx, id)
}

// ListPlaceRequests returns one page of place requests and the total
// matching q.
func (s *Service) ListPlaceRequests(ctx context.Context, q listing.Query) ([]PlaceRequest, int, error) {
	return s.repo.ListPlaceRequests(ctx, q)
}

// ListEditRequests returns one page of edit requests and the total
// matching q.
func (s *Service) ListEditRequests(ctx context.Context, q listing.Query) ([]EditRequest, int, error) {
	return s.repo.ListEditRequests(ctx, q)
}

// Refuse closes a submitted or pending request with a reason shown to the
// requester.
func (s *Service) Refuse(ctx context.Context, kind Kind, id, actorID int64, reason string) error {
	ctx, span := tracer.Start(ctx, "requests.Refuse")
	defer span.End()
	span.SetAttributes(attribute.String("request.kind", string(kind)), attribute.Int64("request.id", id))

	reason = sanitize.Text(reason)
	if reason == "" {
		return invalid("reason", validation.Rule{Tag: "required"})
	}
	if utf8.RuneCountInString(reason) > maxReasonLength {
		return invalid("reason", validation.Rule{Tag: "max", Param: strconv.Itoa(maxReasonLength)})
	}

	err := s.repo.WithTx(ctx, func(tx Repository) error {
		mod, err := tx.LockModeration(ctx, kind, id)
		if err != nil {
			return err
		}
		if !CanBeRefused(mod.Status) {
			return s.forbidden(kind, "refuse", id, actorID, mod.Status)
		}
		return tx.SetRefused(ctx, kind, id, actorID, reason)
	})
	if err != nil {
		s.countTransition(kind, "refuse", err)
		return err
	}
	s.countTransition(kind, "refuse", nil)
	s.logger.Info().Str("kind", string(kind)).Int64("request_id", id).Int64("actor_id", actorID).Msg("request refused")

	s.notifyDecision(ctx, kind, id, false, reason, nil)
	return nil
}

// AcceptInput is what the admin confirms when accepting a place request.
// Without translations, the request's own text becomes the published
// translation in its language.
type AcceptInput struct {
	Translations  []places.TranslationInput `json:"translations" validate:"dive"`
	TagIDs        []int64                   `json:"tag_ids"`
	CategoryIDs   []int64                   `json:"category_ids"`
	IsFeatured    bool                      `json:"is_featured"`
	AutoTranslate bool                      `json:"auto_translate"`
}

// AcceptPlaceRequest turns a request into a place in one transaction: lock
// and guard, create the place with its translations, taxonomy and photos,
// then mark the request accepted.
func (s *Service) AcceptPlaceRequest(ctx context.Context, id, actorID int64, in AcceptInput) (*places.Place, error) {
	ctx, span := tracer.Start(ctx, "requests.AcceptPlaceRequest")
	defer span.End()
	span.SetAttributes(attribute.Int64("request.id", id))

	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	req, err := s.repo.GetPlaceRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	inputs := in.Translations
	if len(inputs) == 0 {
		inputs = []places.TranslationInput{{
			Locale:      s.requestLocale(req.DetectedLanguage, req.Locale),
			Title:       req.Title,
			Slug:        req.Slug,
			Description: req.Description,
			Status:      places.StatusPublished,
		}}
	}
	prepared, err := s.places.PrepareTranslations(ctx, inputs, 0)
	if err != nil {
		return nil, err
	}

	params := places.CreateParams{
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		Address:      req.Address,
		AdminID:      &actorID,
		IsFeatured:   in.IsFeatured,
		RequestID:    &id,
		Translations: prepared,
		TagIDs:       in.TagIDs,
		CategoryIDs:  in.CategoryIDs,
	}
	for i, p := range req.Photos {
		params.Photos = append(params.Photos, places.PhotoInput{
			StorageKey:   p.StorageKey,
			OriginalName: p.OriginalName,
			MIMEType:     p.MIMEType,
			SizeBytes:    p.SizeBytes,
			IsMain:       i == 0,
		})
	}

	var place *places.Place
	err = s.repo.WithTx(ctx, func(tx Repository) error {
		mod, err := tx.LockModeration(ctx, KindPlace, id)
		if err != nil {
			return err
		}
		if !CanBeModerated(mod.Status) {
			return s.forbidden(KindPlace, "accept", id, actorID, mod.Status)
		}
		place, err = tx.CreatePlace(ctx, params)
		if err != nil {
			return fmt.Errorf("create place: %w", err)
		}
		return tx.SetAccepted(ctx, KindPlace, id, actorID)
	})
	if err != nil {
		s.countTransition(KindPlace, "accept", err)
		return nil, err
	}
	s.countTransition(KindPlace, "accept", nil)
	span.SetAttributes(attribute.Int64("place.id", place.ID))
	s.logger.Info().Int64("request_id", id).Int64("place_id", place.ID).Int64("actor_id", actorID).Msg("place request accepted")

	if in.AutoTranslate {
		s.autoTranslate(ctx, place.ID, prepared)
	}
	if place.Address == "" && s.jobs != nil {
		if err := s.jobs.EnqueueReverseGeocode(ctx, place.ID); err != nil {
			s.logger.Error().Err(err).Int64("place_id", place.ID).Msg("failed to enqueue reverse geocoding")
		}
	}
	placeID := place.ID
	s.notifyDecision(ctx, KindPlace, id, true, "", &placeID)
	return place, nil
}

// AcceptEditRequest closes an edit request as accepted. The place itself is
// edited separately.
func (s *Service) AcceptEditRequest(ctx context.Context, id, actorID int64) error {
	ctx, span := tracer.Start(ctx, "requests.AcceptEditRequest")
	defer span.End()

	err := s.repo.WithTx(ctx, func(tx Repository) error {
		mod, err := tx.LockModeration(ctx, KindEdit, id)
		if err != nil {
			return err
		}
		if !CanBeModerated(mod.Status) {
			return s.forbidden(KindEdit, "accept", id, actorID, mod.Status)
		}
		return tx.SetAccepted(ctx, KindEdit, id, actorID)
	})
	s.countTransition(KindEdit, "accept", err)
	if err != nil {
		return err
	}
	s.logger.Info().Int64("request_id", id).Int64("actor_id", actorID).Msg("edit request accepted")
	s.notifyDecision(ctx, KindEdit, id, true, "", nil)
	return nil
}

// RefusePlaceRequest is Refuse for place requests.
func (s *Service) RefusePlaceRequest(ctx context.Context, id, actorID int64, reason string) error {
	return s.Refuse(ctx, KindPlace, id, actorID, reason)
}

// RefuseEditRequest is Refuse for edit requests.
func (s *Service) RefuseEditRequest(ctx context.Context, id, actorID int64, reason string) error {
	return s.Refuse(ctx, KindEdit, id, actorID, reason)
}

func (s *Service) forbidden(kind Kind, transition string, id, actorID int64, status Status) error {
	s.logger.Warn().
		Str("kind", string(kind)).
		Str("transition", transition).
		Int64("request_id", id).
		Int64("actor_id", actorID).
		Str("status", string(status)).
		Msg("forbidden moderation transition")
	return fmt.Errorf("%w: cannot %s a %s request", ErrForbiddenTransition, transition, status)
}

func (s *Service) countTransition(kind Kind, transition string, err error) {
	result := "success"
	switch {
	case errors.Is(err, ErrForbiddenTransition):
		result = "forbidden"
	case err != nil:
		result = "error"
	}
	metrics.ModerationTransitionsTotal.WithLabelValues(string(kind), transition, result).Inc()
}

// requestLocale picks the detected language when the site supports it.
func (s *Service) requestLocale(detected, submitted string) string {
	if s.supported(detected) {
		return detected
	}
	if s.supported(submitted) {
		return submitted
	}
	if len(s.locales) > 0 {
		return s.locales[0]
	}
	return submitted
}

// autoTranslate adds draft translations for every supported locale the
// admin left empty. Failures only cost the drafts.
func (s *Service) autoTranslate(ctx context.Context, placeID int64, existing []places.TranslationInput) {
	if s.translator == nil || len(existing) == 0 {
		return
	}
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[t.Locale] = true
	}
	source := existing[0]

	var drafts []places.TranslationInput
	for _, target := range s.locales {
		if have[target] {
			continue
		}
		title, err := s.translator.Translate(ctx, source.Title, source.Locale, target)
		if err != nil {
			s.logger.Warn().Err(err).Int64("place_id", placeID).Str("locale", target).Msg("auto translation skipped")
			continue
		}
		description, err := s.translator.Translate(ctx, source.Description, source.Locale, target)
		if err != nil {
			s.logger.Warn().Err(err).Int64("place_id", placeID).Str("locale", target).Msg("auto translation skipped")
			continue
		}
		drafts = append(drafts, places.TranslationInput{
			Locale:      target,
			Title:       title,
			Description: description,
			Status:      places.StatusDraft,
		})
	}
	if len(drafts) == 0 {
		return
	}
	if _, err := s.places.Update(ctx, placeID, places.UpdateParams{Translations: drafts}); err != nil {
		s.logger.Warn().Err(err).Int64("place_id", placeID).Msg("failed to store auto translations")
	}
}

func (s *Service) notifyDecision(ctx context.Context, kind Kind, id int64, accepted bool, reason string, placeID *int64) {
	if s.jobs == nil {
		return
	}
	d := Decision{Kind: kind, RequestID: id, Accepted: accepted, Reason: reason, PlaceID: placeID}
	switch kind {
	case KindPlace:
		req, err := s.repo.GetPlaceRequest(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Int64("request_id", id).Msg("decision email skipped")
			return
		}
		d.To, d.Locale, d.Title = req.ContactEmail, req.Locale, req.Title
	case KindEdit:
		req, err := s.repo.GetEditRequest(ctx, id)
		if err != nil {
			s.logger.Warn().Err(err).Int64("request_id", id).Msg("decision email skipped")
			return
		}
		d.To, d.Locale, d.Title = req.ContactEmail, req.Locale, req.PlaceTitle
		d.PlaceID = req.PlaceID
	}
	if d.To == "" {
		return
	}
	if err := s.jobs.EnqueueDecision(ctx, d); err != nil {
		s.logger.Error().Err(err).Int64("request_id", id).Msg("failed to enqueue decision email")
	}
}

// SubmitPlaceInput is a visitor's place proposal.
type SubmitPlaceInput struct {
	Title        string                  `json:"title" validate:"required,max=255"`
	Description  string                  `json:"description" validate:"required,max=20000"`
	Latitude     float64                 `json:"lat" validate:"latitude"`
	Longitude    float64                 `json:"lng" validate:"longitude"`
	Address      string                  `json:"address" validate:"max=500"`
	ContactEmail string                  `json:"contact_email" validate:"required,email,max=255"`
	Locale       string                  `json:"-"`
	CaptchaToken string                  `json:"-"`
	RemoteIP     string                  `json:"-"`
	Photos       []*multipart.FileHeader `json:"-"`
}

// SubmitPlaceRequest runs the public proposal pipeline: captcha, validation,
// sanitizing, language detection, photo staging, storage, notification.
func (s *Service) SubmitPlaceRequest(ctx context.Context, in SubmitPlaceInput) (*PlaceRequest, error) {
	ctx, span := tracer.Start(ctx, "requests.SubmitPlaceRequest")
	defer span.End()

	if err := s.captcha.Verify(ctx, in.CaptchaToken, in.RemoteIP); err != nil {
		metrics.RequestsSubmittedTotal.WithLabelValues(string(KindPlace), "captcha_failed").Inc()
		return nil, err
	}
	if err := validation.Struct(in); err != nil {
		metrics.RequestsSubmittedTotal.WithLabelValues(string(KindPlace), "invalid").Inc()
		return nil, err
	}

	req := &PlaceRequest{
		Title:        sanitize.Text(in.Title),
		Description:  sanitize.HTML(in.Description),
		Latitude:     in.Latitude,
		Longitude:    in.Longitude,
		Address:      sanitize.Text(in.Address),
		ContactEmail: strings.TrimSpace(in.ContactEmail),
		Locale:       in.Locale,
		Moderation:   Moderation{Status: StatusSubmitted},
	}
	if req.Title == "" {
		metrics.RequestsSubmittedTotal.WithLabelValues(string(KindPlace), "invalid").Inc()
		return nil, invalid("title", validation.Rule{Tag: "required"})
	}
	req.Slug = slug.Make(req.Title)
	req.DetectedLanguage = s.detect(ctx, req.Title+"\n"+sanitize.Text(req.Description), in.Locale)

	if len(in.Photos) > 0 {
		stored, err := s.photos.Save(ctx, in.Photos)
		if err != nil {
			metrics.RequestsSubmittedTotal.WithLabelValues(string(KindPlace), "invalid").Inc()
			return nil, err
		}
		for i, p := range stored {
			req.Photos = append(req.Photos, StagedPhoto{
				StorageKey:   p.Key,
				OriginalName: p.OriginalName,
				MIMEType:     p.MIMEType,
				SizeBytes:    p.SizeBytes,
				SortOrder:    i,
			})
		}
	}

	if err := s.repo.CreatePlaceRequest(ctx, req); err != nil {
		for _, p := range req.Photos {
			if derr := s.photos.Delete(p.StorageKey); derr != nil {
				s.logger.Warn().Err(derr).Str("key", p.StorageKey).Msg("failed to remove staged photo")
			}
		}
		metrics.RequestsSubmittedTotal.WithLabelValues(string(KindPlace), "error").Inc()
		return nil, fmt.Errorf("store place request: %w", err)
	}
	metrics.RequestsSubmittedTotal.WithLabelValues(string(KindPlace), "accepted").Inc()
	span.SetAttributes(attribute.Int64("request.id", req.ID))
	s.logger.Info().Int64("request_id", req.ID).Str("language", req.DetectedLanguage).Int("photos", len(req.Photos)).Msg("place request submitted")

	s.notifyNew(ctx, NewRequestNotice{Kind: KindPlace, RequestID: req.ID, Title: req.Title, Language: req.DetectedLanguage})
	return req, nil
}

var suggestionFields = map[string]bool{
	"title":          true,
	"description":    true,
	"practical_info": true,
	"address":        true,
	"latitude":       true,
	"longitude":      true,
}

// SubmitEditInput is a visitor's change proposal or report on a place.
type SubmitEditInput struct {
	PlaceID          int64             `json:"-"`
	Type             EditType          `json:"type" validate:"required,oneof=modification signalement"`
	ContactEmail     string            `json:"contact_email" validate:"required,email,max=255"`
	Message          string            `json:"message" validate:"required,max=5000"`
	SuggestedChanges map[string]string `json:"suggested_changes" validate:"max=6,dive,max=20000"`
	Locale           string            `json:"-"`
	CaptchaToken     string            `json:"-"`
	RemoteIP         string            `json:"-"`
}

// SubmitEditRequest stores a public change proposal or problem report on a
// published place and notifies the admins.
func (s *Service) SubmitEditRequest(ctx context.Context, in SubmitEditInput) (*EditRequest, error) {
	ctx, span := tracer.Start(ctx, "requests.SubmitEditRequest")
	defer span.End()

	if err := s.captcha.Verify(ctx, in.CaptchaToken, in.RemoteIP); err != nil {
		metrics.RequestsSubmittedTotal.WithLabelValues(string(KindEdit), "captcha_failed").Inc()
		return nil, err
	}
	if err := validation.Struct(in); err != nil {
		metrics.RequestsSubmittedTotal.WithLabelValues(string(KindEdit), "invalid").Inc()
		return nil, err
	}

	req := &EditRequest{
		PlaceID:          &in.PlaceID,
		Type:             in.Type,
		ContactEmail:     strings.TrimSpace(in.ContactEmail),
		Message:          sanitize.Text(in.Message),
		SuggestedChanges: map[string]string{},
		Locale:           in.Locale,
		Moderation:       Moderation{Status: StatusSubmitted},
	}
	for field, value := range in.SuggestedChanges {
		if !suggestionFields[field] {
			metrics.RequestsSubmittedTotal.WithLabelValues(string(KindEdit), "invalid").Inc()
			return nil, invalid("suggested_changes."+field, validation.Rule{Tag: "immutable"})
		}
		if clean := sanitize.Text(value); clean != "" {
			req.SuggestedChanges[field] = clean
		}
	}
	if req.Message == "" {
		metrics.RequestsSubmittedTotal.WithLabelValues(string(KindEdit), "invalid").Inc()
		return nil, invalid("message", validation.Rule{Tag: "required"})
	}
	req.DetectedLanguage = s.detect(ctx, req.Message, in.Locale)

	if err := s.repo.CreateEditRequest(ctx, req); err != nil {
		if errors.Is(err, ErrPlaceNotFound) {
			metrics.RequestsSubmittedTotal.WithLabelValues(string(KindEdit), "invalid").Inc()
			return nil, err
		}
		metrics.RequestsSubmittedTotal.WithLabelValues(string(KindEdit), "error").Inc()
		return nil, fmt.Errorf("store edit request: %w", err)
	}
	metrics.RequestsSubmittedTotal.WithLabelValues(string(KindEdit), "accepted").Inc()
	s.logger.Info().Int64("request_id", req.ID).Int64("place_id", in.PlaceID).Str("type", string(req.Type)).Msg("edit request submitted")

	s.notifyNew(ctx, NewRequestNotice{Kind: KindEdit, RequestID: req.ID, Title: string(req.Type), Language: req.DetectedLanguage})
	return req, nil
}

// detect asks the provider for the text's language and falls back to the
// locale the visitor was browsing in.
func (s *Service) detect(ctx context.Context, text, fallback string) string {
	if s.detector == nil {
		return fallback
	}
	lang, err := s.detector.Detect(ctx, text)
	if err != nil || lang == "" {
		s.logger.Debug().Err(err).Str("fallback", fallback).Msg("language detection unavailable")
		return fallback
	}
	return lang
}

func (s *Service) notifyNew(ctx context.Context, notice NewRequestNotice) {
	if s.jobs == nil {
		return
	}
	if err := s.jobs.EnqueueNewRequest(ctx, notice); err != nil {
		s.logger.Error().Err(err).Int64("request_id", notice.RequestID).Msg("failed to enqueue admin notification")
	}
}
