package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/smartgrade-api/internal/models"
	"github.com/noah-isme/smartgrade-api/internal/service"
	"github.com/noah-isme/smartgrade-api/pkg/response"
)

type feedbackService interface {
	Send(ctx context.Context, studentID string, req service.FeedbackRequest, actor service.Actor) (*models.Feedback, error)
	ListForStudent(ctx context.Context, studentID string, actor service.Actor) ([]models.Feedback, error)
	ListMine(ctx context.Context, userID string) ([]models.Feedback, error)
}

type noteService interface {
	Create(ctx context.Context, studentID string, req service.NoteRequest, actor service.Actor) (*models.PrivateNote, error)
	List(ctx context.Context, studentID string, actor service.Actor) ([]models.PrivateNote, error)
	Delete(ctx context.Context, id string, actor service.Actor) error
}

type contactService interface {
	Create(ctx context.Context, studentID string, req service.ContactRequest, actor service.Actor) (*models.UrgentContact, error)
	List(ctx context.Context, studentID string, actor service.Actor) ([]models.UrgentContact, error)
}

// EngagementHandler exposes feedback, private notes and urgent contacts.
type EngagementHandler struct {
	feedback feedbackService
	notes    noteService
	contacts contactService
}

// NewEngagementHandler constructs the handler.
func NewEngagementHandler(feedback feedbackService, notes noteService, contacts contactService) *EngagementHandler {
	return &EngagementHandler{feedback: feedback, notes: notes, contacts: contacts}
}

// SendFeedback godoc
// @Summary Send feedback to a student
// @Tags Feedback
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.FeedbackRequest true "Feedback"
// @Success 201 {object} response.Envelope
// @Router /students/{id}/feedback [post]
func (h *EngagementHandler) SendFeedback(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req service.FeedbackRequest
	if !bindJSON(c, &req) {
		return
	}
	feedback, err := h.feedback.Send(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, feedback)
}

// ListFeedback godoc
// @Summary List feedback about a student
// @Tags Feedback
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/feedback [get]
func (h *EngagementHandler) ListFeedback(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	items, err := h.feedback.ListForStudent(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// MyFeedback godoc
// @Summary Feedback addressed to the calling student
// @Tags Feedback
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /me/feedback [get]
func (h *EngagementHandler) MyFeedback(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	items, err := h.feedback.ListMine(c.Request.Context(), actor.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// CreateNote godoc
// @Summary Write a private note
// @Tags Notes
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.NoteRequest true "Note"
// @Success 201 {object} response.Envelope
// @Router /students/{id}/notes [post]
func (h *EngagementHandler) CreateNote(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req service.NoteRequest
	if !bindJSON(c, &req) {
		return
	}
	note, err := h.notes.Create(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, note)
}

// ListNotes godoc
// @Summary List the caller's notes about a student
// @Tags Notes
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/notes [get]
func (h *EngagementHandler) ListNotes(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	notes, err := h.notes.List(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, notes, nil)
}

// DeleteNote godoc
// @Summary Delete one of the caller's notes
// @Tags Notes
// @Param id path string true "Note ID"
// @Success 204 {object} response.Envelope
// @Router /notes/{id} [delete]
func (h *EngagementHandler) DeleteNote(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	if err := h.notes.Delete(c.Request.Context(), c.Param("id"), actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CreateContact godoc
// @Summary Record an urgent contact
// @Description system and email contacts are queued for delivery, call and other are logged
// @Tags Contacts
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.ContactRequest true "Contact"
// @Success 201 {object} response.Envelope
// @Router /students/{id}/contacts [post]
func (h *EngagementHandler) CreateContact(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req service.ContactRequest
	if !bindJSON(c, &req) {
		return
	}
	contact, err := h.contacts.Create(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, contact)
}

// ListContacts godoc
// @Summary List urgent contacts of a student
// @Tags Contacts
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/contacts [get]
func (h *EngagementHandler) ListContacts(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	contacts, err := h.contacts.List(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, contacts, nil)
}
