package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"html2pdf-proxy/internal/domain"
	log "html2pdf-proxy/internal/infra/logging"
	"html2pdf-proxy/internal/inline"
	"html2pdf-proxy/internal/intake"
	"html2pdf-proxy/internal/preview"
	"html2pdf-proxy/internal/render"
)

const pdfFilename = "converted.pdf"

var uploadsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "html2pdf_proxy_uploads_total",
		Help: "Accepted uploads by route",
	},
	[]string{"route"},
)

// ConvertService serves the upload and preview routes.
type ConvertService struct {
	renderer render.Renderer
}

func NewConvertService(r render.Renderer) *ConvertService {
	return &ConvertService{renderer: r}
}

// HandleUpload inlines the uploaded images and relays the document to the
// render backend, answering with the PDF as an attachment.
func (svc *ConvertService) HandleUpload(c *fiber.Ctx) error {
	html, err := inlinedHTML(c, "upload")
	if err != nil {
		return err
	}

	res, err := svc.renderer.Render(c.UserContext(), html)
	if err != nil {
		return relayError(c, err)
	}

	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+pdfFilename+`"`)
	c.Set(fiber.HeaderContentLength, strconv.Itoa(res.Size()))
	log.Info("PDF sent to client", "bytes", res.Size(), "cached", res.Cached, "request_id", requestID(c))
	return c.Send(res.PDF)
}

// HandlePreview answers with the inlined document inside the preview shell.
// No backend call is made.
func (svc *ConvertService) HandlePreview(c *fiber.Ctx) error {
	html, err := inlinedHTML(c, "preview")
	if err != nil {
		return err
	}
	c.Type("html", "utf-8")
	return c.SendString(preview.Wrap(html))
}

func inlinedHTML(c *fiber.Ctx, route string) (string, error) {
	up, err := intake.Collect(c)
	if err != nil {
		if errors.Is(err, domain.ErrMissingHTML) {
			return "", fiber.NewError(fiber.StatusBadRequest, "No HTML file uploaded.")
		}
		log.Error("Reading upload failed", "error", err, "request_id", requestID(c))
		return "", fiber.NewError(fiber.StatusInternalServerError, "Internal Server Error")
	}
	uploadsTotal.WithLabelValues(route).Inc()
	log.Debug("Upload accepted", "route", route, "html", up.HTML.Filename, "images", len(up.Images))
	return inline.Inline(string(up.HTML.Bytes), inline.BuildIndex(up.Images)), nil
}

// relayError maps a render failure onto the client response: upstream
// statuses are passed through, transport failures become 500.
func relayError(c *fiber.Ctx, err error) error {
	var upErr *render.UpstreamError
	if errors.As(err, &upErr) {
		code := upErr.StatusCode
		if code < http.StatusBadRequest {
			code = http.StatusBadGateway
		}
		return fiber.NewError(code, "Failed to generate PDF")
	}
	log.Error("Render request failed", "error", err, "request_id", requestID(c))
	return fiber.NewError(fiber.StatusInternalServerError, "Internal Server Error")
}

func requestID(c *fiber.Ctx) string {
	if id := c.GetRespHeader(fiber.HeaderXRequestID); id != "" {
		return id
	}
	return c.Get(fiber.HeaderXRequestID)
}
