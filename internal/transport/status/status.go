package status

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	statussvc "github.com/alanyang/domain-server/internal/service/status"
)

func Register(rg *gin.RouterGroup, svc *statussvc.Service) {
	rg.GET("/nodes", overview(svc))
	rg.GET("/assignments", listAssignments(svc))
	rg.GET("/assignments/:id", getAssignment(svc))
	rg.GET("/stats", stats(svc))
}

func overview(svc *statussvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Overview())
	}
}

func listAssignments(svc *statussvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Assignments())
	}
}

func getAssignment(svc *statussvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}

		a, ok := svc.Assignment(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "assignment not found"})
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

func stats(svc *statussvc.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Stats())
	}
}
