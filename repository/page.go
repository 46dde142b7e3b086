package repository

// Direction orders a sort expression.
type Direction int

const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// Order sorts by a single property, named by property or storage name.
type Order struct {
	Property  string
	Direction Direction
}

// Asc sorts ascending by the named property.
func Asc(property string) Order {
	return Order{Property: property, Direction: Ascending}
}

// Desc sorts descending by the named property.
func Desc(property string) Order {
	return Order{Property: property, Direction: Descending}
}

// Sort is an ordered list of sort expressions. Earlier orders take
// precedence; later ones break ties. The zero value leaves the result
// set unsorted.
type Sort struct {
	Orders []Order
}

// SortBy builds a Sort from the given orders.
func SortBy(orders ...Order) Sort {
	return Sort{Orders: orders}
}

// IsSorted reports whether the sort carries at least one order.
func (s Sort) IsSorted() bool {
	return len(s.Orders) > 0
}

// Pageable requests one page of a result set. Page is zero-based.
type Pageable struct {
	Page int
	Size int
	Sort Sort
}

// PageRequest builds a Pageable for the given zero-based page and size.
func PageRequest(page, size int) Pageable {
	return Pageable{Page: page, Size: size}
}

// WithSort returns a copy of the request with the given sort applied.
func (p Pageable) WithSort(sort Sort) Pageable {
	p.Sort = sort
	return p
}

// Offset is the index of the first element on the requested page.
func (p Pageable) Offset() int {
	return p.Page * p.Size
}

// Page is one page of results plus the totals needed to iterate further.
type Page[T any] struct {
	Content       []T
	Number        int
	Size          int
	TotalElements int64
}

// TotalPages derives the page count from the total element count. An
// unpaged result (size zero or negative) counts as a single page when it
// has content.
func (p Page[T]) TotalPages() int {
	if p.Size <= 0 {
		if p.TotalElements > 0 {
			return 1
		}
		return 0
	}
	return int((p.TotalElements + int64(p.Size) - 1) / int64(p.Size))
}

// HasNext reports whether a page after this one exists.
func (p Page[T]) HasNext() bool {
	return p.Number+1 < p.TotalPages()
}

// IsEmpty reports whether the page holds no content.
func (p Page[T]) IsEmpty() bool {
	return len(p.Content) == 0
}
