package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ListType names one of the archive's catalogs.
type ListType string

const (
	ListSubject   ListType = "subject"
	ListLetter    ListType = "letter"
	ListDateRange ListType = "daterange"
)

// Valid reports whether t is a catalog the archive serves.
func (t ListType) Valid() bool {
	switch t {
	case ListSubject, ListLetter, ListDateRange:
		return true
	}
	return false
}

// Entry is one item of a catalog: a subject, a letter or a date range.
type Entry struct {
	ID          string
	Name        string
	Total       int
	HasChildren bool
}

// Book is the archive's description of one book.
type Book struct {
	ID        int
	Title     string
	Author    string
	City      string
	Year      string
	Pages     int
	NewReader bool
}

// Description joins the author, year and city that are known.
func (b Book) Description() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{b.Author, b.Year, b.City} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " • ")
}

// PDFURL returns the download link of the whole book.
func (b Book) PDFURL() string {
	return fmt.Sprintf("https://download.hebrewbooks.org/downloadhandler.ashx?req=%d", b.ID)
}

// PageImageURL returns the rendered image of one page.
func (b Book) PageImageURL(page, width, height int) string {
	return fmt.Sprintf("https://beta.hebrewbooks.org/reader/pagepngs/%d_%d_%d_%d.png", b.ID, page, width, height)
}

// PagePDFURL returns a single page as a PDF.
func (b Book) PagePDFURL(page int) string {
	return fmt.Sprintf("https://beta.hebrewbooks.org/pagefeed/hebrewbooks_org_%d_%d.pdf", b.ID, page)
}

// PageURL returns the site's viewer for one page.
func (b Book) PageURL(page int) string {
	return fmt.Sprintf("https://hebrewbooks.org/pdfpager.aspx?req=%d&pgnum=%d", b.ID, page)
}

// SearchResult is one hit of a search or catalog listing.
type SearchResult struct {
	ID     int
	Title  string
	Author string
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return fmt.Errorf("not an integer: %s", b)
	}
	*f = flexInt(n)
	return nil
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(b)
	return nil
}

// flexBool accepts true/false, "true"/"false" and "y"/"n".
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	switch string(bytes.Trim(b, `"`)) {
	case "true", "True", "y", "Y", "1":
		*f = true
	default:
		*f = false
	}
	return nil
}

type wireEntry struct {
	ID          flexString `json:"id"`
	Name        string     `json:"name"`
	Total       flexInt    `json:"total"`
	HasChildren flexBool   `json:"has_children"`
}

type wireBook struct {
	ID        flexInt    `json:"id"`
	Title     string     `json:"title"`
	Author    string     `json:"author"`
	City      string     `json:"city"`
	Year      flexString `json:"year"`
	Pages     flexInt    `json:"pages"`
	NewReader flexBool   `json:"new_reader_available"`
}

type wireResult struct {
	ID     flexInt `json:"id"`
	Title  string  `json:"title"`
	Author string  `json:"author"`
}

type wireResults struct {
	Data  []wireResult `json:"data"`
	Total flexInt      `json:"total"`
}

func (w wireResults) results() []SearchResult {
	out := make([]SearchResult, 0, len(w.Data))
	for _, r := range w.Data {
		out = append(out, SearchResult{ID: int(r.ID), Title: r.Title, Author: r.Author})
	}
	return out
}
