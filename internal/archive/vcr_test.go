package archive

import (
	"context"
	"testing"

	"github.com/tjfontaine/hebrewbooks-bot/internal/testutil"
)

func TestRecordedAPI(t *testing.T) {
	recorder, cleanup := testutil.NewVCRRecorder(t, "hebrewbooks_api")
	defer cleanup()

	c, err := New(DefaultBaseURL, WithHTTPClient(testutil.VCRHTTPClient(recorder)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	book, err := c.Book(ctx, 14596)
	if err != nil {
		t.Fatalf("Book() error = %v", err)
	}
	if book.Pages != 314 || book.Year != "1855" || !book.NewReader {
		t.Errorf("Book() = %+v", book)
	}
	if book.Title != `שו"ת חתם סופר - חלק א` {
		t.Errorf("Book() title = %q", book.Title)
	}

	ranges, err := c.DateRanges(ctx)
	if err != nil {
		t.Fatalf("DateRanges() error = %v", err)
	}
	if len(ranges) != 3 || ranges[1].ID != "2" || ranges[1].Total != 1207 {
		t.Errorf("DateRanges() = %+v", ranges)
	}

	results, total, err := c.Search(ctx, "chatam", "", 1, 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if total != 2 || len(results) != 2 || results[0].ID != 14596 {
		t.Errorf("Search() = %+v, %d", results, total)
	}
}
