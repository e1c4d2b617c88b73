package server

import (
	"errors"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/settlement/internal/orgcontext"
)

func parseOptionalInt(value string) (*int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := strconv.Atoi(trimmed)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

func parseSnowflakeID(value string) (snowflake.ID, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return 0, errors.New("invalid_id")
	}
	return parsed, nil
}

// pathID reads a snowflake id from a path parameter, aborting with a validation
// error when it is malformed.
func pathID(c *gin.Context, name string) (snowflake.ID, bool) {
	id, err := parseSnowflakeID(c.Param(name))
	if err != nil {
		AbortWithError(c, newValidationError(name, "invalid_id", "invalid id"))
		return 0, false
	}
	return id, true
}

func requestOrgID(c *gin.Context) (snowflake.ID, bool) {
	orgID, err := orgcontext.RequireOrgID(c.Request.Context())
	if err != nil {
		AbortWithError(c, ErrOrgRequired)
		return 0, false
	}
	return orgID, true
}
