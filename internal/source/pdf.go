package source

import (
	"strings"

	"github.com/gen2brain/go-fitz"
)

// FitzPDFSource extracts the text layer of a PDF script with MuPDF.
type FitzPDFSource struct {
	doc  *fitz.Document
	path string
}

func NewFitzPDFSource(path string) (*FitzPDFSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return &FitzPDFSource{doc: doc, path: path}, nil
}

func (f *FitzPDFSource) PageCount() int {
	return f.doc.NumPage()
}

// Text joins the pages with a blank line so a page break also ends a
// scene block.
func (f *FitzPDFSource) Text() (string, error) {
	pages := make([]string, 0, f.PageCount())
	for i := 0; i < f.PageCount(); i++ {
		t, err := f.doc.Text(i)
		if err != nil {
			return "", err
		}
		pages = append(pages, strings.TrimRight(t, "\n "))
	}
	return strings.Join(pages, "\n\n"), nil
}

func (f *FitzPDFSource) Close() error {
	return f.doc.Close()
}
