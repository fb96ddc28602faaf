package names

import (
	"fmt"

	prose "github.com/jdkato/prose/v2"
)

// ProseRecognizer runs prose's statistical NER model. The model ships
// with the library, so construction is cheap and never fails.
type ProseRecognizer struct{}

func NewProseRecognizer() *ProseRecognizer { return &ProseRecognizer{} }

func (*ProseRecognizer) Entities(text string) (ents []Entity, err error) {
	defer func() {
		if r := recover(); r != nil {
			ents, err = nil, fmt.Errorf("prose panic: %v", r)
		}
	}()

	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		return nil, fmt.Errorf("prose document: %w", err)
	}
	for _, e := range doc.Entities() {
		ents = append(ents, Entity{Label: e.Label, Text: e.Text})
	}
	return ents, nil
}

var _ Recognizer = (*ProseRecognizer)(nil)
