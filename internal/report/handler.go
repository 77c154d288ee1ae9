package report

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Handler serves daily report downloads.
type Handler struct {
	builder *Builder
}

// NewHandler constructs a handler.
func NewHandler(builder *Builder) (*Handler, error) {
	if builder == nil {
		return nil, errors.New("report handler: nil builder")
	}
	return &Handler{builder: builder}, nil
}

// ServeHTTP handles GET /api/v1/reports/daily.{xlsx,pdf}.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	format := r.URL.Path[strings.LastIndex(r.URL.Path, ".")+1:]
	rpt, err := h.builder.Build(r.Context(), time.Now().UTC())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var payload []byte
	var contentType string
	switch format {
	case "xlsx":
		payload, err = BuildDailyXLSX(rpt)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "pdf":
		payload, err = BuildDailyPDF(rpt)
		contentType = "application/pdf"
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("daily-%s.%s", rpt.GeneratedAt.Format("20060102"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(payload)
}
