package domain

import "errors"

var (
	ErrMissingHTML        = errors.New("no HTML file uploaded")
	ErrTooManyFiles       = errors.New("too many files")
	ErrFileTooLarge       = errors.New("file too large")
	ErrUnexpectedField    = errors.New("unexpected field")
	ErrBackendUnreachable = errors.New("render backend not reachable")
)

// UploadedAsset is one file from the multipart body, held in memory for the
// duration of a request.
type UploadedAsset struct {
	Filename string
	MIMEType string
	Bytes    []byte
}

// Upload is the parsed form: exactly one HTML document and zero or more images.
type Upload struct {
	HTML   UploadedAsset
	Images []UploadedAsset
}

// ImageIndex maps an original filename to its data URI.
type ImageIndex map[string]string

// RenderResult carries the PDF produced by the backend.
type RenderResult struct {
	PDF    []byte
	Cached bool
}

// Size is the exact byte length sent to the client.
func (r RenderResult) Size() int {
	return len(r.PDF)
}
