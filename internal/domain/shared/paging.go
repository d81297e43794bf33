package shared

const (
	DefaultPageSize = 20
	MaxPageSize     = 500
)

// Filter pages a list query. Pages are 1-based; OrderDir is "asc" or "desc".
type Filter struct {
	Page     int
	PageSize int
	OrderDir string
}

func DefaultFilter() Filter {
	return Filter{Page: 1, PageSize: DefaultPageSize, OrderDir: "desc"}
}

// Normalize clamps out-of-range values. An unknown direction becomes desc.
func (f Filter) Normalize() Filter {
	f.Page = max(f.Page, 1)
	switch {
	case f.PageSize < 1:
		f.PageSize = DefaultPageSize
	case f.PageSize > MaxPageSize:
		f.PageSize = MaxPageSize
	}
	if f.OrderDir != "asc" {
		f.OrderDir = "desc"
	}
	return f
}

func (f Filter) Offset() int { return (f.Page - 1) * f.PageSize }

// Paginated is one page of T plus totals for the whole result
type Paginated[T any] struct {
	Items      []T   `json:"items"`
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalPages int   `json:"total_pages"`
}

func NewPaginated[T any](items []T, total int64, page, pageSize int) Paginated[T] {
	p := Paginated[T]{Items: items, Total: total, Page: page, PageSize: pageSize}
	if pageSize > 0 {
		p.TotalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return p
}
