// Package docgen renders board-resolution drafts as Word documents.
package docgen

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/gomutex/godocx"
	"github.com/gomutex/godocx/wml/stypes"
)

// ContentType is the MIME type of the rendered files.
const ContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

const (
	titleSize = 16 // points
	bodySize  = 12
)

var (
	headingLine = regexp.MustCompile(`(?i)BOARD RESOLUTION.*`)
	linkLine    = regexp.MustCompile(`(?i)Click here.*`)
)

// CleanDraft removes the heading and call-to-action lines models tend to echo
// back, leaving only the resolution body.
func CleanDraft(text string) string {
	if loc := headingLine.FindStringIndex(text); loc != nil {
		text = text[:loc[0]] + text[loc[1]:]
	}
	text = linkLine.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// signatureBlock follows the resolution body, one paragraph per entry. Empty
// entries are spacer paragraphs.
var signatureBlock = []string{
	"",
	"",
	"Place: ____________",
	"Date: ____________",
	"",
	"For and on behalf of the Board",
	"_________________________",
	"Authorized Signatory",
}

// RenderResolution builds a .docx board resolution around body. Each line of
// body becomes its own paragraph; the first one opens with "RESOLVED THAT".
func RenderResolution(body string) ([]byte, error) {
	doc, err := godocx.NewDocument()
	if err != nil {
		return nil, fmt.Errorf("docgen: new document: %w", err)
	}

	title := doc.AddEmptyParagraph()
	title.Justification(stypes.JustificationCenter)
	title.AddText("BOARD RESOLUTION").Bold(true).Size(titleSize)
	doc.AddEmptyParagraph()

	for i, line := range strings.Split(body, "\n") {
		if i == 0 {
			line = "RESOLVED THAT " + line
		}
		doc.AddEmptyParagraph().AddText(line).Size(bodySize)
	}

	for _, line := range signatureBlock {
		p := doc.AddEmptyParagraph()
		if line != "" {
			p.AddText(line)
		}
	}

	var out bytes.Buffer
	if err := doc.Write(&out); err != nil {
		return nil, fmt.Errorf("docgen: write document: %w", err)
	}
	return out.Bytes(), nil
}
