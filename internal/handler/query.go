package handler

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const maxPageSize = 500

func intQuery(c *gin.Context, key string, def int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return def
}

func pageQuery(c *gin.Context, defLimit int) (limit, offset int) {
	limit = intQuery(c, "limit", defLimit)
	if limit <= 0 {
		limit = defLimit
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset = intQuery(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func strQueryPtr(c *gin.Context, key string) *string {
	if val := strings.TrimSpace(c.Query(key)); val != "" {
		return &val
	}
	return nil
}

func upperQueryPtr(c *gin.Context, key string) *string {
	if p := strQueryPtr(c, key); p != nil {
		v := strings.ToUpper(*p)
		return &v
	}
	return nil
}

// uuidQueryPtr returns ok=false when the parameter is present but malformed.
func uuidQueryPtr(c *gin.Context, key string) (*uuid.UUID, bool) {
	val := strings.TrimSpace(c.Query(key))
	if val == "" {
		return nil, true
	}
	id, err := uuid.Parse(val)
	if err != nil {
		return nil, false
	}
	return &id, true
}

func uuidParam(c *gin.Context, key string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(c.Param(key)))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func boolQueryDefault(c *gin.Context, key string, def bool) bool {
	if val := c.Query(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return def
}

func boolPtr(v bool) *bool { return &v }

func parseOrder(value string, allow map[string]string) string {
	key := strings.TrimSpace(strings.ToLower(value))
	if key == "" {
		return ""
	}
	if mapped, ok := allow[key]; ok {
		return mapped
	}
	return ""
}

func paginationMeta(limit, offset int, total int64) map[string]any {
	if limit <= 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	hasNext := int64(offset+limit) < total
	return map[string]any{
		"limit":    limit,
		"offset":   offset,
		"total":    total,
		"has_next": hasNext,
	}
}
