package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// me returns the profile of the authenticated account.
func (s *Server) me(c *gin.Context) {
	c.JSON(http.StatusOK, viewAccount(currentAccount(c)))
}
