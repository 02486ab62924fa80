package architect

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
)

// RenderHTML converts a Markdown report to a standalone HTML document.
func RenderHTML(markdown string) ([]byte, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &buf); err != nil {
		return nil, err
	}

	page := fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>PersonaFlow Report</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5; max-width: 48rem; margin: 2rem auto;">
%s
</body></html>`, buf.String())

	return []byte(page), nil
}
