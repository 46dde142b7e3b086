package repository

import "testing"

func TestPageTotals(t *testing.T) {
	cases := []struct {
		name    string
		page    Page[int]
		pages   int
		hasNext bool
	}{
		{"exact fit", Page[int]{Number: 0, Size: 5, TotalElements: 10}, 2, true},
		{"remainder", Page[int]{Number: 2, Size: 4, TotalElements: 10}, 3, false},
		{"last full page", Page[int]{Number: 1, Size: 5, TotalElements: 10}, 2, false},
		{"empty", Page[int]{Number: 0, Size: 5, TotalElements: 0}, 0, false},
		{"unpaged with content", Page[int]{Number: 0, Size: 0, TotalElements: 3}, 1, false},
		{"unpaged empty", Page[int]{Number: 0, Size: 0, TotalElements: 0}, 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.page.TotalPages(); got != tc.pages {
				t.Errorf("TotalPages() = %d, want %d", got, tc.pages)
			}
			if got := tc.page.HasNext(); got != tc.hasNext {
				t.Errorf("HasNext() = %v, want %v", got, tc.hasNext)
			}
		})
	}
}

func TestPageRequestOffset(t *testing.T) {
	p := PageRequest(3, 20)
	if p.Offset() != 60 {
		t.Fatalf("Offset() = %d, want 60", p.Offset())
	}
	sorted := p.WithSort(SortBy(Asc("name")))
	if !sorted.Sort.IsSorted() {
		t.Fatal("WithSort did not apply the sort")
	}
	if p.Sort.IsSorted() {
		t.Fatal("WithSort mutated the receiver")
	}
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7}

	page := Paginate(items, PageRequest(1, 3))
	if len(page.Content) != 3 || page.Content[0] != 4 {
		t.Fatalf("page 1 content = %v", page.Content)
	}
	if page.TotalElements != 7 || page.TotalPages() != 3 {
		t.Fatalf("totals = %d elements, %d pages", page.TotalElements, page.TotalPages())
	}

	last := Paginate(items, PageRequest(2, 3))
	if len(last.Content) != 1 || last.Content[0] != 7 {
		t.Fatalf("last page content = %v", last.Content)
	}
	if last.HasNext() {
		t.Fatal("last page claims a next page")
	}

	beyond := Paginate(items, PageRequest(5, 3))
	if !beyond.IsEmpty() {
		t.Fatalf("page beyond the end = %v", beyond.Content)
	}
	if beyond.TotalElements != 7 {
		t.Fatalf("beyond.TotalElements = %d", beyond.TotalElements)
	}
}

func TestPaginateCopies(t *testing.T) {
	items := []string{"a", "b", "c"}
	page := Paginate(items, PageRequest(0, 2))
	page.Content[0] = "mutated"
	if items[0] != "a" {
		t.Fatal("Paginate shares backing storage with the source slice")
	}
}

func TestPaginateUnpaged(t *testing.T) {
	items := []int{1, 2, 3}
	page := Paginate(items, Pageable{})
	if len(page.Content) != 3 || page.Size != 3 {
		t.Fatalf("unpaged result = %+v", page)
	}
	if page.TotalPages() != 1 {
		t.Fatalf("unpaged TotalPages() = %d", page.TotalPages())
	}
}

func TestEventKindString(t *testing.T) {
	if EventSaved.String() != "saved" || EventDeleted.String() != "deleted" {
		t.Fatal("unexpected event kind labels")
	}
	if EventKind(99).String() != "unknown" {
		t.Fatal("out-of-range kind should read as unknown")
	}
}
