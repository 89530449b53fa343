// Package preview wraps inlined HTML in a local A4 preview page.
package preview

const (
	shellHead = `<!DOCTYPE html><html><head><meta charset='utf-8'><title>Preview</title><style>body{background:#f8f9fa;margin:0;padding:0;display:flex;justify-content:center;align-items:center;min-height:100vh;} .a4-preview{background:#fff;border:1px solid #e0e0e0;border-radius:8px;width:210mm;height:297mm;box-shadow:0 0 8px #e0e0e0;overflow:auto;padding:0.5em;} </style></head><body><div class='a4-preview'>`
	shellTail = `</div></body></html>`
)

// Wrap places fragment, unmodified, inside a centred, bordered, scrollable
// A4 panel.
func Wrap(fragment string) string {
	return shellHead + fragment + shellTail
}
