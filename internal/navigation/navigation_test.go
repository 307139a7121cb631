package navigation

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
)

func TestTokens(t *testing.T) {
	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"browse", BrowseNavigation{Kind: BrowseSubject, ID: "12", Offset: 8, Total: 40}.Token(), "bn:subject:12:8:40"},
		{"browse list", BrowseType{ID: "", Kind: BrowseLetter}.Token(), "bt::letter"},
		{"search", SearchNavigation{Offset: 0, Total: 3, Query: "a:b"}.Token(), "sn:0:3:a%3Ab"},
		{"show", ShowBook{ID: 1234}.Token(), "sh:1234"},
		{"read", ReadBook{ID: "1234", Page: 5, Total: 300, Mode: ReadImage, BookType: BookRegular}.Token(), "re:1234:5:300:i:b"},
		{"jump", JumpToPage{ID: 1234, Page: 5, Total: 300, BookType: BookMasechet}.Token(), "ju:1234:5:300:m"},
		{"share", ShareBook{ID: 9}.Token(), "share:9"},
		{"broadcast", Broadcast{Send: true, Lang: "he"}.Token(), "broadcast:1:he"},
		{"language", SetLanguage{Code: "en"}.Token(), "lang:en"},
		{"start", Start.Encode(Menu{}), "start"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.token != tt.want {
				t.Errorf("Token() = %q, want %q", tt.token, tt.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	check := func(t *testing.T, want, got any, err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("Decode() error = %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("round trip mismatch (-want +got):\n%s", diff)
		}
	}

	bn := BrowseNavigation{Kind: BrowseDateRange, ID: "5750-5760", Offset: 16, Total: 99}
	gotBN, err := BrowseNav.Decode(bn.Token())
	check(t, bn, gotBN, err)

	bt := BrowseType{ID: "א", Kind: BrowseLetter}
	gotBT, err := BrowseList.Decode(bt.Token())
	check(t, bt, gotBT, err)

	sn := SearchNavigation{Offset: 8, Total: 120, Query: "משנה ברורה, חלק א: הלכות"}
	gotSN, err := SearchNav.Decode(sn.Token())
	check(t, sn, gotSN, err)

	re := ReadBook{ID: "77", Page: 1, Total: 2, Mode: ReadText, BookType: BookTursa}
	gotRE, err := Read.Decode(re.Token())
	check(t, re, gotRE, err)

	ju := JumpToPage{ID: 77, Page: 2, Total: 9, BookType: BookRegular}
	gotJU, err := Jump.Decode(ju.Token())
	check(t, ju, gotJU, err)

	bc := Broadcast{Send: false, Lang: "all"}
	gotBC, err := BroadcastConfirm.Decode(bc.Token())
	check(t, bc, gotBC, err)
}

func TestShowShareAreDistinct(t *testing.T) {
	show := ShowBook{ID: 5}.Token()
	share := ShareBook{ID: 5}.Token()

	if Share.Matches(show) {
		t.Errorf("Share.Matches(%q) = true", show)
	}
	if Show.Matches(share) {
		t.Errorf("Show.Matches(%q) = true", share)
	}
	if !Show.Matches(show) || !Share.Matches(share) {
		t.Error("variants do not match their own tokens")
	}
}

func TestTagsAreUnique(t *testing.T) {
	tags := []string{
		BrowseNav.Tag(), BrowseList.Tag(), SearchNav.Tag(), Show.Tag(), Read.Tag(),
		Jump.Tag(), Share.Tag(), BroadcastConfirm.Tag(), Language.Tag(),
		Start.Tag(), BrowseMenu.Tag(), Stats.Tag(), ChooseLang.Tag(), JumpTip.Tag(),
	}
	seen := make(map[string]bool)
	for _, tag := range tags {
		if seen[tag] {
			t.Errorf("duplicate tag %q", tag)
		}
		seen[tag] = true
	}
}

func TestBrowseKindArchive(t *testing.T) {
	for k, want := range map[BrowseKind]bool{
		BrowseSubject:   true,
		BrowseLetter:    true,
		BrowseDateRange: true,
		BrowseShas:      false,
		BrowseTursa:     false,
	} {
		if got := k.Archive(); got != want {
			t.Errorf("%q.Archive() = %v, want %v", k, got, want)
		}
	}
}

func TestFitQuery(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		q     string
		want  string
	}{
		{"fits", 64, "rambam", "rambam"},
		{"unbounded", 0, "anything", "anything"},
		{"ascii cut", 14, "rambam hilchot", "rambam"},
		{"escaped cut", 14, "a:b:c:d", "a:b"},
		{"nothing fits", 5, "abc", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FitQuery(tt.limit, 8, 40, tt.q)
			if got != tt.want {
				t.Errorf("FitQuery() = %q, want %q", got, tt.want)
			}
		})
	}

	got := FitQuery(20, 8, 40, "שולחן ערוך")
	if !utf8.ValidString(got) {
		t.Errorf("FitQuery() = %q, not valid UTF-8", got)
	}
	if n := len(SearchNavigation{Offset: 8, Total: 40, Query: got}.Token()); n > 20 {
		t.Errorf("token length = %d, want <= 20", n)
	}
}

func TestFitQueryLongInput(t *testing.T) {
	q := strings.Repeat("ש", 4096)

	got := FitQuery(64, 1, 500, q)
	// "sn:1:500:" leaves 55 bytes, room for 27 two-byte runes.
	if want := strings.Repeat("ש", 27); got != want {
		t.Errorf("FitQuery() = %d bytes, want %d", len(got), len(want))
	}

	allocs := testing.AllocsPerRun(10, func() { FitQuery(64, 1, 500, q) })
	if allocs > 200 {
		t.Errorf("FitQuery() allocs = %v, want a cost independent of query length", allocs)
	}
}
