package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type contactForm struct {
	Name    string `form:"fullName" binding:"required,max=200"`
	Email   string `form:"email" binding:"required,email,max=320"`
	Message string `form:"message" binding:"required,max=5000"`
}

// contact stores a contact form submission and answers with an HTMX fragment.
func (s *server) contact(c *gin.Context) {
	var form contactForm
	if err := c.ShouldBind(&form); err != nil {
		c.HTML(http.StatusOK, "contact-error.html", gin.H{
			"error": "Please fill in your name, a valid email and a message.",
		})
		return
	}

	if _, err := s.store.SaveMessage(c.Request.Context(), form.Name, form.Email, form.Message); err != nil {
		s.logger.Error("error saving contact message", "error", err)
		c.HTML(http.StatusOK, "contact-error.html", gin.H{
			"error": "Sorry, there was an error sending your message. Please try again later.",
		})
		return
	}

	s.logger.Info("contact message received", "email", form.Email)
	c.HTML(http.StatusOK, "contact-success.html", gin.H{
		"success": "Thank you for your message! I'll get back to you soon.",
	})
}
