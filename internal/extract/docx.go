package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const (
	docxDefaultPart  = "word/document.xml"
	docxContentTypes = "[Content_Types].xml"
	docxMainType     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
	wordprocessingNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
)

type contentTypes struct {
	Overrides []struct {
		PartName    string `xml:"PartName,attr"`
		ContentType string `xml:"ContentType,attr"`
	} `xml:"Override"`
}

// extractDOCX streams the main document part and joins <w:t> runs, one line per <w:p>.
func extractDOCX(content []byte) ([]Section, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	part := docxMainPart(zr)
	for _, f := range zr.File {
		if f.Name != part {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("extract DOCX: open %s: %w", f.Name, err)
		}
		defer rc.Close()
		text, err := wordText(rc)
		if err != nil {
			return nil, fmt.Errorf("extract DOCX: %w", err)
		}
		return []Section{{Kind: "document", Name: "body", Index: 1, Text: text}}, nil
	}
	return nil, fmt.Errorf("extract DOCX: %s not found", part)
}

func docxMainPart(zr *zip.Reader) string {
	for _, f := range zr.File {
		if f.Name != docxContentTypes {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return docxDefaultPart
		}
		defer rc.Close()
		var ct contentTypes
		if err := xml.NewDecoder(rc).Decode(&ct); err != nil {
			return docxDefaultPart
		}
		for _, o := range ct.Overrides {
			if o.ContentType == docxMainType {
				return strings.TrimPrefix(o.PartName, "/")
			}
		}
	}
	return docxDefaultPart
}

func wordText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space == wordprocessingNS && t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			if t.Name.Space != wordprocessingNS {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
