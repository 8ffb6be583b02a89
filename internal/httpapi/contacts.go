package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/addrbook/addrbook/internal/store"
)

// birthdayHorizonDays is how far ahead the birthday lookup scans.
const birthdayHorizonDays = 7

func (s *Server) listContacts(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.badRequest(c, err)
		return
	}

	list, err := s.contacts.List(c.Request.Context(), currentAccount(c).ID, q.Skip, q.Limit)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewContacts(list))
}

func (s *Server) createContact(c *gin.Context) {
	form, ok := s.bindContact(c)
	if !ok {
		return
	}

	created, err := s.contacts.Create(c.Request.Context(), &store.Contact{
		UserID:       currentAccount(c).ID,
		FirstName:    form.FirstName,
		LastName:     form.LastName,
		Email:        form.Email,
		Phone:        form.Phone,
		BirthDate:    form.BirthDate.Time,
		Relationship: form.Relationship,
	})
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewContact(created))
}

func (s *Server) getContact(c *gin.Context) {
	id, ok := s.contactID(c)
	if !ok {
		return
	}

	contact, err := s.contacts.Get(c.Request.Context(), currentAccount(c).ID, id)
	if err != nil {
		s.contactError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewContact(contact))
}

func (s *Server) updateContact(c *gin.Context) {
	id, ok := s.contactID(c)
	if !ok {
		return
	}
	form, ok := s.bindContact(c)
	if !ok {
		return
	}

	updated, err := s.contacts.Update(c.Request.Context(), currentAccount(c).ID, id, &store.Contact{
		FirstName:    form.FirstName,
		LastName:     form.LastName,
		Email:        form.Email,
		Phone:        form.Phone,
		BirthDate:    form.BirthDate.Time,
		Relationship: form.Relationship,
	})
	if err != nil {
		s.contactError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewContact(updated))
}

func (s *Server) deleteContact(c *gin.Context) {
	id, ok := s.contactID(c)
	if !ok {
		return
	}

	deleted, err := s.contacts.Delete(c.Request.Context(), currentAccount(c).ID, id)
	if err != nil {
		s.contactError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewContact(deleted))
}

func (s *Server) findContacts(c *gin.Context) {
	var q findQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		s.badRequest(c, err)
		return
	}

	list, err := s.contacts.Find(c.Request.Context(), currentAccount(c).ID, q.FirstName, q.LastName, q.Email)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewContacts(list))
}

func (s *Server) upcomingBirthdays(c *gin.Context) {
	list, err := s.contacts.UpcomingBirthdays(c.Request.Context(), currentAccount(c).ID, birthdayHorizonDays)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewContacts(list))
}

func (s *Server) bindContact(c *gin.Context) (*contactForm, bool) {
	var form contactForm
	if err := c.ShouldBindJSON(&form); err != nil {
		s.badRequest(c, err)
		return nil, false
	}
	// The date needs its own check: binding tags cannot see through the
	// wrapper type.
	if form.BirthDate.IsZero() {
		s.badRequest(c, errors.New("date_of_birth is required"))
		return nil, false
	}
	return &form, true
}

// contactID validates the path parameter. A malformed id gets the same 404
// as a missing contact, so probing with garbage reveals nothing.
func (s *Server) contactID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "contact not found"})
		return "", false
	}
	return id, true
}

func (s *Server) contactError(c *gin.Context, err error) {
	if errors.Is(err, store.ErrContactNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"message": "contact not found"})
		return
	}
	s.internalError(c, err)
}
