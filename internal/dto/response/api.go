// Package response holds the JSON envelopes returned by the admin API.
package response

import "time"

// ApiResponse is the envelope every admin API endpoint returns
type ApiResponse[T any] struct {
	Success   bool      `json:"success"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
	Data      T         `json:"data,omitempty"`
	Errors    any       `json:"errors,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func envelope[T any](success bool, message string) ApiResponse[T] {
	return ApiResponse[T]{Success: success, Message: message, Timestamp: time.Now().UTC()}
}

// NewSuccess wraps data with a message
func NewSuccess[T any](data T, message string) ApiResponse[T] {
	r := envelope[T](true, message)
	r.Data = data
	return r
}

// NewSuccessWithData wraps data
func NewSuccessWithData[T any](data T) ApiResponse[T] {
	return NewSuccess(data, "")
}

// NewError is a failed envelope carrying only a message
func NewError[T any](message string) ApiResponse[T] {
	return envelope[T](false, message)
}

// NewErrorWithDetails attaches details, e.g. per-field validation errors
func NewErrorWithDetails[T any](message string, details any) ApiResponse[T] {
	r := envelope[T](false, message)
	r.Errors = details
	return r
}

// NewCodedError is a failed envelope carrying a machine readable code
func NewCodedError[T any](code, message string) ApiResponse[T] {
	r := envelope[T](false, message)
	r.Code = code
	return r
}

// PageInfo describes one page of a listing
type PageInfo struct {
	Page       int   `json:"page"`
	Size       int   `json:"size"`
	TotalItems int64 `json:"total_items"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
}

// PagedResponse is a page of items plus its position in the listing
type PagedResponse[T any] struct {
	Items    []T      `json:"items"`
	PageInfo PageInfo `json:"page_info"`
}

// NewPagedResponse builds a page. A nil items slice encodes as [].
func NewPagedResponse[T any](items []T, page, size int, total int64) PagedResponse[T] {
	if items == nil {
		items = []T{}
	}
	pages := 0
	if size > 0 {
		pages = int((total + int64(size) - 1) / int64(size))
	}
	return PagedResponse[T]{
		Items: items,
		PageInfo: PageInfo{
			Page:       page,
			Size:       size,
			TotalItems: total,
			TotalPages: pages,
			HasNext:    page < pages,
			HasPrev:    page > 1,
		},
	}
}
