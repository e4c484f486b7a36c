// Package dao defines the storage interfaces behind the plugin audit
// trail. Implementations live in the gorm and mongo subpackages.
package dao

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// NormalizePage clamps page to at least 1 and size to (0, MaxPageSize]
func NormalizePage(page, size int) (int, int) {
	switch {
	case size <= 0:
		size = DefaultPageSize
	case size > MaxPageSize:
		size = MaxPageSize
	}
	return max(page, 1), size
}

// Offset returns the number of rows to skip for page
func Offset(page, size int) int {
	return (page - 1) * size
}

// PageResult is one page of audit records, newest first
type PageResult[T any] struct {
	Items      []*T
	TotalCount int64
	Page       int
	Size       int
}

func NewPageResult[T any](items []*T, totalCount int64, page, size int) *PageResult[T] {
	return &PageResult[T]{Items: items, TotalCount: totalCount, Page: page, Size: size}
}

// HasNext reports whether records remain past this page
func (p *PageResult[T]) HasNext() bool {
	return int64(Offset(p.Page, p.Size)+len(p.Items)) < p.TotalCount
}
