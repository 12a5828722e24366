package handler

import (
	"errors"
	"net/http"

	apperrors "github.com/Adithya-Monish-Kumar-K/faqdesk/pkg/errors"
)

type createTicketRequest struct {
	UserQuery string `json:"user_query"`
}

type updateResponseRequest struct {
	Response string `json:"response"`
}

// CreateTicket answers POST /ticket.
func (h *Handler) CreateTicket(w http.ResponseWriter, r *http.Request) {
	if !h.ticketsEnabled(w) {
		return
	}
	var req createTicketRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	t, err := h.tickets.Create(r.Context(), req.UserQuery)
	if err != nil {
		h.writeAppError(w, r, err)
		return
	}
	if h.metrics != nil {
		h.metrics.TicketsCreatedTotal.Inc()
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{
		"ticket_number": t.TicketNumber,
		"message":       "Ticket created successfully!",
	})
}

// GetTicket answers GET /ticket/{ticket_number}.
func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	if !h.ticketsEnabled(w) {
		return
	}
	t, err := h.tickets.Get(r.Context(), r.PathValue("ticket_number"))
	if err != nil {
		h.writeTicketError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, t.View())
}

// UpdateTicketResponse answers PUT /ticket/{ticket_number}/response.
func (h *Handler) UpdateTicketResponse(w http.ResponseWriter, r *http.Request) {
	if !h.ticketsEnabled(w) {
		return
	}
	var req updateResponseRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.tickets.UpdateResponse(r.Context(), r.PathValue("ticket_number"), req.Response); err != nil {
		h.writeTicketError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Response updated successfully"})
}

func (h *Handler) ticketsEnabled(w http.ResponseWriter) bool {
	if h.tickets == nil {
		h.writeError(w, http.StatusServiceUnavailable, "ticket store is not configured")
		return false
	}
	return true
}

func (h *Handler) writeTicketError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, apperrors.ErrTicketNotFound) {
		h.writeError(w, http.StatusNotFound, msgTicketNotFound)
		return
	}
	h.writeAppError(w, r, err)
}
