package extract

import (
	"fmt"

	"github.com/lu4p/cat"
)

// extractWithCat handles ODT and RTF, which lu4p/cat detects from the content itself.
func extractWithCat(content []byte) ([]Section, error) {
	text, err := cat.FromBytes(content)
	if err != nil {
		return nil, fmt.Errorf("extract document: %w", err)
	}
	return []Section{{Kind: "document", Name: "body", Index: 1, Text: text}}, nil
}
