package node

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// fetchStatus will return the node status
func (a *api) fetchStatus(c *gin.Context) {
	c.JSON(http.StatusOK, a.status())
}

// fetchHistory will return the generation conclusions of the run
func (a *api) fetchHistory(c *gin.Context) {
	entries, err := a.history()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entries)
}
