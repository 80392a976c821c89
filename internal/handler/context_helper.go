package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	appErrors "github.com/civicworks/civic-ops-api/pkg/errors"
)

func pathID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, appErrors.Clone(appErrors.ErrValidation, "invalid id")
	}
	return id, nil
}
