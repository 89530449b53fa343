// Package intake turns a multipart upload into in-memory assets.
package intake

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"html2pdf-proxy/internal/domain"
)

const (
	FieldHTML   = "htmlFile"
	FieldImages = "imageFiles"
)

// Limits bounds a single upload.
type Limits struct {
	MaxFileBytes  int64
	MaxImageFiles int
}

// Enforce rejects uploads that break the per-field counts or the per-file
// size cap before the route handler runs. Bodies that are not multipart are
// passed on so the handler can report the missing HTML file.
func Enforce(lim Limits) fiber.Handler {
	return func(c *fiber.Ctx) error {
		form, err := c.MultipartForm()
		if err != nil {
			if errors.Is(err, fasthttp.ErrNoMultipartForm) {
				return c.Next()
			}
			return fiber.NewError(fiber.StatusBadRequest, "Malformed multipart body")
		}
		if err := check(form, lim); err != nil {
			return err
		}
		return c.Next()
	}
}

func check(form *multipart.Form, lim Limits) error {
	for field, files := range form.File {
		switch field {
		case FieldHTML:
			if len(files) > 1 {
				return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("%s: %s accepts 1 file", domain.ErrTooManyFiles, FieldHTML))
			}
		case FieldImages:
			if len(files) > lim.MaxImageFiles {
				return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("%s: %s accepts %d files", domain.ErrTooManyFiles, FieldImages, lim.MaxImageFiles))
			}
		default:
			return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("%s: %s", domain.ErrUnexpectedField, field))
		}
		for _, fh := range files {
			if fh.Size > lim.MaxFileBytes {
				return fiber.NewError(fiber.StatusRequestEntityTooLarge, fmt.Sprintf("%s: %s exceeds %d bytes", domain.ErrFileTooLarge, fh.Filename, lim.MaxFileBytes))
			}
		}
	}
	return nil
}

// Collect reads the HTML file and the images of the request into memory.
// It returns domain.ErrMissingHTML when no non-empty HTML file was sent.
func Collect(c *fiber.Ctx) (*domain.Upload, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, domain.ErrMissingHTML
	}
	htmlFiles := form.File[FieldHTML]
	if len(htmlFiles) == 0 {
		return nil, domain.ErrMissingHTML
	}

	html, err := readAsset(htmlFiles[0])
	if err != nil {
		return nil, err
	}
	if len(html.Bytes) == 0 {
		return nil, domain.ErrMissingHTML
	}
	if html.MIMEType == "" {
		html.MIMEType = fiber.MIMETextHTML
	}

	up := &domain.Upload{HTML: html}
	for _, fh := range form.File[FieldImages] {
		img, err := readAsset(fh)
		if err != nil {
			return nil, err
		}
		up.Images = append(up.Images, img)
	}
	return up, nil
}

func readAsset(fh *multipart.FileHeader) (domain.UploadedAsset, error) {
	f, err := fh.Open()
	if err != nil {
		return domain.UploadedAsset{}, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()

	buf, err := io.ReadAll(f)
	if err != nil {
		return domain.UploadedAsset{}, fmt.Errorf("read %s: %w", fh.Filename, err)
	}
	return domain.UploadedAsset{
		Filename: fh.Filename,
		MIMEType: fh.Header.Get(fiber.HeaderContentType),
		Bytes:    buf,
	}, nil
}
