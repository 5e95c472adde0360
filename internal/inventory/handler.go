// internal/inventory/handler.go
package inventory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"hdlend/internal/errs"
	"hdlend/internal/validation"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxBodyBytes = 1 << 20

type Handler struct {
	service  Service
	validate *validation.Validator
	logger   *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service:  service,
		validate: validation.New(),
		logger:   logger,
	}
}

// Routes returns the inventory API router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", h.handleHealth)

	r.Route("/titles", func(r chi.Router) {
		r.Post("/", h.handleCreateTitle)
		r.Get("/", h.handleListTitles)
		r.Route("/{titleID}", func(r chi.Router) {
			r.Get("/", h.handleGetTitle)
			r.Patch("/", h.handleUpdateTitle)
			r.Get("/stats", h.handleTitleStats)
			r.Get("/units", h.handleTitleUnits)
			r.Get("/slots", h.handleTitleSlots)
			r.Post("/slots", h.handleAddSlots)
			r.Put("/slots/{slotIndex}", h.handleCreateSlot)
		})
	})

	r.Route("/units", func(r chi.Router) {
		r.Post("/", h.handleRegisterUnit)
		r.Get("/", h.handleListUnits)
		r.Get("/by-tag/{tag}", h.handleFindUnitByTag)
		r.Route("/{unitID}", func(r chi.Router) {
			r.Get("/", h.handleGetUnit)
			r.Delete("/", h.handleDeleteUnit)
			r.Get("/status", h.handleUnitStatus)
			r.Put("/tag", h.handleAttachTag)
			r.Post("/certify", h.handleCertify)
			r.Post("/decertify", h.handleDecertify)
		})
	})

	r.Route("/slots", func(r chi.Router) {
		r.Get("/", h.handleListSlots)
		r.Post("/batch-start", h.handleBatchStart)
		r.Route("/{slotID}", func(r chi.Router) {
			r.Get("/", h.handleGetSlot)
			r.Put("/unit", h.handleAssignUnit)
			r.Post("/start", h.handleStartSlot)
			r.Post("/close", h.handleCloseSlot)
			r.Put("/note", h.handleSetSlotNote)
		})
	})

	r.Post("/tags/{tag}/start", h.handleStartByTag)
	r.Post("/tags/{tag}/close", h.handleCloseByTag)

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.writeError(w, r, errs.Unavailable("store unreachable", err))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Titles

type createTitleRequest struct {
	Name         string `json:"name" validate:"required"`
	SlotCapacity int    `json:"slot_capacity" validate:"gte=1"`
}

type titleWithSlots struct {
	Title *Title  `json:"title"`
	Slots []*Slot `json:"slots"`
}

func (h *Handler) handleCreateTitle(w http.ResponseWriter, r *http.Request) {
	var req createTitleRequest
	if !h.decode(w, r, &req) {
		return
	}
	title, slots, err := h.service.CreateTitle(r.Context(), req.Name, req.SlotCapacity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, titleWithSlots{Title: title, Slots: slots})
}

func (h *Handler) handleListTitles(w http.ResponseWriter, r *http.Request) {
	titles, err := h.service.ListTitles(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, titles)
}

func (h *Handler) handleGetTitle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "titleID")
	if !ok {
		return
	}
	title, err := h.service.GetTitle(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, title)
}

func (h *Handler) handleUpdateTitle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "titleID")
	if !ok {
		return
	}
	var req TitleUpdate
	if !h.decode(w, r, &req) {
		return
	}
	title, err := h.service.UpdateTitle(r.Context(), id, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, title)
}

func (h *Handler) handleTitleStats(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "titleID")
	if !ok {
		return
	}
	stats, err := h.service.TitleStats(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleTitleUnits(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "titleID")
	if !ok {
		return
	}
	units, err := h.service.TitleUnits(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, units)
}

func (h *Handler) handleTitleSlots(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "titleID")
	if !ok {
		return
	}
	states, err := parseStates(r.URL.Query().Get("status"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slots, err := h.service.ListSlots(r.Context(), SlotFilter{TitleID: &id, States: states})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, slots)
}

type addSlotsRequest struct {
	Count int    `json:"count" validate:"gte=1,lte=1000"`
	Note  string `json:"note" validate:"max=1000"`
}

func (h *Handler) handleAddSlots(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "titleID")
	if !ok {
		return
	}
	var req addSlotsRequest
	if !h.decode(w, r, &req) {
		return
	}
	title, slots, err := h.service.AddSlots(r.Context(), id, req.Count, req.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, titleWithSlots{Title: title, Slots: slots})
}

type noteRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

func (h *Handler) handleCreateSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "titleID")
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "slotIndex"))
	if err != nil {
		h.writeError(w, r, errs.Validationf("slot index %q is not a number", chi.URLParam(r, "slotIndex")))
		return
	}
	var req noteRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	slot, err := h.service.CreateSlot(r.Context(), id, index, req.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, slot)
}

// Units

type registerUnitRequest struct {
	Tag string `json:"tag"`
}

func (h *Handler) handleRegisterUnit(w http.ResponseWriter, r *http.Request) {
	var req registerUnitRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	unit, err := h.service.RegisterUnit(r.Context(), req.Tag)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, unit)
}

func (h *Handler) handleListUnits(w http.ResponseWriter, r *http.Request) {
	var filter UnitFilter
	q := r.URL.Query()
	for key, dst := range map[string]**bool{"ready": &filter.Ready, "available": &filter.Available} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, r, errs.Validationf("%s must be true or false", key))
			return
		}
		*dst = &v
	}
	units, err := h.service.ListUnits(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, units)
}

func (h *Handler) handleFindUnitByTag(w http.ResponseWriter, r *http.Request) {
	unit, err := h.service.FindUnitByTag(r.Context(), chi.URLParam(r, "tag"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, unit)
}

func (h *Handler) handleGetUnit(w http.ResponseWriter, r *http.Request) {
	h.unitQuery(w, r, h.service.GetUnit)
}

func (h *Handler) handleDeleteUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "unitID")
	if !ok {
		return
	}
	if err := h.service.DeleteUnit(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnitStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "unitID")
	if !ok {
		return
	}
	status, err := h.service.UnitStatus(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

type tagRequest struct {
	Tag string `json:"tag" validate:"required"`
}

func (h *Handler) handleAttachTag(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "unitID")
	if !ok {
		return
	}
	var req tagRequest
	if !h.decode(w, r, &req) {
		return
	}
	unit, err := h.service.AttachTag(r.Context(), id, req.Tag)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, unit)
}

func (h *Handler) handleCertify(w http.ResponseWriter, r *http.Request) {
	h.unitQuery(w, r, h.service.Certify)
}

func (h *Handler) handleDecertify(w http.ResponseWriter, r *http.Request) {
	h.unitQuery(w, r, h.service.Decertify)
}

// Slots

func (h *Handler) handleListSlots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter SlotFilter
	for key, dst := range map[string]**uuid.UUID{"title_id": &filter.TitleID, "unit_id": &filter.UnitID} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, r, errs.Validationf("%s is not a valid UUID", key))
			return
		}
		*dst = &id
	}
	states, err := parseStates(q.Get("status"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	filter.States = states

	slots, err := h.service.ListSlots(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, slots)
}

type batchStartRequest struct {
	SlotIDs []uuid.UUID `json:"slot_ids" validate:"required,max=500"`
}

func (h *Handler) handleBatchStart(w http.ResponseWriter, r *http.Request) {
	var req batchStartRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.BatchStart(r.Context(), req.SlotIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleGetSlot(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "slotID")
	if !ok {
		return
	}
	slot, err := h.service.GetSlot(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, slot)
}

type assignRequest struct {
	UnitID uuid.UUID `json:"unit_id" validate:"required"`
}

func (h *Handler) handleAssignUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "slotID")
	if !ok {
		return
	}
	var req assignRequest
	if !h.decode(w, r, &req) {
		return
	}
	tr, err := h.service.AssignUnit(r.Context(), id, req.UnitID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tr)
}

func (h *Handler) handleStartSlot(w http.ResponseWriter, r *http.Request) {
	h.slotTransition(w, r, h.service.StartSlot)
}

func (h *Handler) handleCloseSlot(w http.ResponseWriter, r *http.Request) {
	h.slotTransition(w, r, h.service.CloseSlot)
}

func (h *Handler) handleSetSlotNote(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "slotID")
	if !ok {
		return
	}
	var req noteRequest
	if !h.decode(w, r, &req) {
		return
	}
	slot, err := h.service.SetSlotNote(r.Context(), id, req.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, slot)
}

func (h *Handler) handleStartByTag(w http.ResponseWriter, r *http.Request) {
	tr, err := h.service.StartByTag(r.Context(), chi.URLParam(r, "tag"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tr)
}

func (h *Handler) handleCloseByTag(w http.ResponseWriter, r *http.Request) {
	tr, err := h.service.CloseByTag(r.Context(), chi.URLParam(r, "tag"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tr)
}

// helpers

func (h *Handler) unitQuery(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (*Unit, error)) {
	id, ok := h.pathID(w, r, "unitID")
	if !ok {
		return
	}
	unit, err := fn(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, unit)
}

func (h *Handler) slotTransition(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) (*Transition, error)) {
	id, ok := h.pathID(w, r, "slotID")
	if !ok {
		return
	}
	tr, err := fn(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tr)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	raw := chi.URLParam(r, param)
	id, err := uuid.Parse(raw)
	if err != nil {
		h.writeError(w, r, errs.Validationf("invalid id %q", raw))
		return uuid.Nil, false
	}
	return id, true
}

// decode reads a required JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	return h.decodeBody(w, r, dst, false)
}

// decodeOptional accepts an empty body.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	return h.decodeBody(w, r, dst, true)
}

func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			h.writeError(w, r, errs.Validation("malformed request body").WithCause(err))
			return false
		}
	}
	if err := h.validate.Validate(dst); err != nil {
		h.writeError(w, r, err)
		return false
	}
	return true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var domainErr *errs.Error
	if !errors.As(err, &domainErr) {
		domainErr = errs.Internal("internal error", err)
	}
	if domainErr.Code == errs.CodeInternal {
		h.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	h.writeJSON(w, domainErr.Code.HTTPStatus(), domainErr)
}

// parseStates reads a comma-separated status filter.
func parseStates(raw string) ([]SlotState, error) {
	if raw == "" {
		return nil, nil
	}
	var states []SlotState
	for _, part := range strings.Split(raw, ",") {
		st, ok := ParseSlotState(strings.TrimSpace(part))
		if !ok {
			return nil, errs.Validationf("unknown slot status %q", part)
		}
		states = append(states, st)
	}
	return states, nil
}
