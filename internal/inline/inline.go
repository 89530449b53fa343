// Package inline rewrites image references in uploaded HTML into data URIs.
//
// The rewrite is textual: markup is never parsed into a tree, attribute order
// and spacing are kept, and any reference without a matching upload passes
// through byte for byte.
package inline

import (
	"encoding/base64"
	"path/filepath"
	"regexp"
	"strings"

	"html2pdf-proxy/internal/domain"
)

// imgSrc matches an img tag and captures the text before src, the quoted
// source value and the rest of the tag.
var imgSrc = regexp.MustCompile(`(?i)<img([^>]+)src=["']([^"']+)["']([^>]*)>`)

// MIMEType returns the declared type, or image/<ext> inferred from the
// filename when none was sent.
func MIMEType(declared, filename string) string {
	if declared != "" {
		return declared
	}
	return "image/" + strings.TrimPrefix(filepath.Ext(filename), ".")
}

// DataURI encodes payload as data:<mime>;base64,<payload>.
func DataURI(mime string, payload []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(payload)
}

// BuildIndex maps each image's original filename to its data URI. When two
// uploads share a filename the later one wins.
func BuildIndex(images []domain.UploadedAsset) domain.ImageIndex {
	index := make(domain.ImageIndex, len(images))
	for _, img := range images {
		index[img.Filename] = DataURI(MIMEType(img.MIMEType, img.Filename), img.Bytes)
	}
	return index
}

// Inline replaces the src of every img tag whose value exactly equals a key
// in index. Unmatched tags are copied unchanged.
func Inline(html string, index domain.ImageIndex) string {
	if len(index) == 0 {
		return html
	}
	matches := imgSrc.FindAllStringSubmatchIndex(html, -1)
	if len(matches) == 0 {
		return html
	}

	var b strings.Builder
	b.Grow(len(html))
	last := 0
	for _, m := range matches {
		src := html[m[4]:m[5]]
		data, ok := index[src]
		if !ok {
			continue
		}
		b.WriteString(html[last:m[0]])
		b.WriteString("<img")
		b.WriteString(html[m[2]:m[3]])
		b.WriteString(`src="`)
		b.WriteString(data)
		b.WriteString(`"`)
		b.WriteString(html[m[6]:m[7]])
		b.WriteString(">")
		last = m[1]
	}
	b.WriteString(html[last:])
	return b.String()
}
