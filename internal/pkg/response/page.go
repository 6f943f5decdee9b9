package response

// PageResponse is the standard wrapper for list endpoints.
type PageResponse[T any] struct {
	Items    []T `json:"items"`
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
	Total    int `json:"total"`
}

// NewPageResponse maps domain items to their response form and wraps them with paging info.
func NewPageResponse[S any, T any](items []S, convert func(S) T, page, pageSize, total int) PageResponse[T] {
	// Always emit [] instead of null
	out := make([]T, 0, len(items))
	for _, it := range items {
		out = append(out, convert(it))
	}

	return PageResponse[T]{
		Items:    out,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
	}
}
