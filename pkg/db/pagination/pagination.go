package pagination

import (
	"encoding/base64"
	"encoding/json"
	"strconv"
	"time"

	"gorm.io/gorm"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 250
)

type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size,default=50"`
}

type Cursor struct {
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token"`
	HasMore       bool   `json:"has_more"`
}

func (p Pagination) Size() int {
	switch {
	case p.PageSize <= 0:
		return DefaultPageSize
	case p.PageSize > MaxPageSize:
		return MaxPageSize
	default:
		return p.PageSize
	}
}

func EncodeCursor(data Cursor) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}

	return base64.URLEncoding.EncodeToString(b), nil
}

func DecodeCursor(data string) (*Cursor, error) {
	b, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return nil, err
	}

	var cursor Cursor
	if err := json.Unmarshal(b, &cursor); err != nil {
		return nil, err
	}

	return &cursor, nil
}

// Apply adds keyset conditions for a created_at DESC, id DESC listing and fetches one extra row
// so callers can detect another page.
func Apply(stmt *gorm.DB, page Pagination) *gorm.DB {
	if page.PageToken != "" {
		if cursor, err := DecodeCursor(page.PageToken); err == nil {
			createdAt, timeErr := time.Parse(time.RFC3339Nano, cursor.CreatedAt)
			id, idErr := strconv.ParseInt(cursor.ID, 10, 64)
			if timeErr == nil && idErr == nil {
				stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)", createdAt, createdAt, id)
			}
		}
	}
	return stmt.Order("created_at desc, id desc").Limit(page.Size() + 1)
}

// Trim cuts the extra lookahead row and builds the page info for it.
func Trim[T any](data []*T, size int, extractCursor func(*T) Cursor) ([]*T, PageInfo) {
	if len(data) <= size {
		return data, PageInfo{HasMore: false}
	}
	data = data[:size]
	token, err := EncodeCursor(extractCursor(data[len(data)-1]))
	if err != nil {
		return data, PageInfo{HasMore: true}
	}
	return data, PageInfo{HasMore: true, NextPageToken: token}
}
