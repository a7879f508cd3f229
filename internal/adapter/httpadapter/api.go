package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/couchcryptid/weather-exceedance-service/internal/domain"
	"github.com/couchcryptid/weather-exceedance-service/internal/pipeline"
)

// QueryService is the part of the pipeline the API serves.
type QueryService interface {
	Sources() []domain.SourceDescriptor
	Variables(ctx context.Context, source string) ([]pipeline.VariableInfo, error)
	Run(ctx context.Context, q pipeline.Query) (domain.Report, error)
	Records(ctx context.Context, q pipeline.ExportQuery) ([]domain.Record, error)
}

var validate = validator.New()

const maxBodyBytes = 1 << 20

type pointRequest struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon float64 `json:"lon" validate:"gte=-180,lte=180"`
}

type bboxRequest struct {
	LatMin float64 `json:"lat_min" validate:"gte=-90,lte=90"`
	LatMax float64 `json:"lat_max" validate:"gte=-90,lte=90,gtefield=LatMin"`
	LonMin float64 `json:"lon_min" validate:"gte=-180,lte=180"`
	LonMax float64 `json:"lon_max" validate:"gte=-180,lte=180,gtefield=LonMin"`
}

// locationRequest holds at most one of a point or a bounding box. Neither
// means the whole dataset.
type locationRequest struct {
	Point *pointRequest `json:"point" validate:"omitempty"`
	BBox  *bboxRequest  `json:"bbox" validate:"omitempty"`
}

func (l *locationRequest) selector() (domain.LocationSelector, error) {
	switch {
	case l == nil || (l.Point == nil && l.BBox == nil):
		return domain.NoSelector(), nil
	case l.Point != nil && l.BBox != nil:
		return domain.LocationSelector{}, fmt.Errorf("%w: location takes a point or a bbox, not both", domain.ErrConfiguration)
	case l.Point != nil:
		return domain.PointSelector(l.Point.Lat, l.Point.Lon), nil
	default:
		return domain.BoxSelector(l.BBox.LatMin, l.BBox.LatMax, l.BBox.LonMin, l.BBox.LonMax), nil
	}
}

type variableRequest struct {
	Name      string   `json:"name" validate:"required"`
	Threshold *float64 `json:"threshold"`
	Unit      string   `json:"unit"`
}

type queryRequest struct {
	Source    string            `json:"source"`
	Place     string            `json:"place" validate:"max=200"`
	Location  *locationRequest  `json:"location"`
	Season    string            `json:"season"`
	Date      string            `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Condition string            `json:"condition"`
	Variables []variableRequest `json:"variables" validate:"required,min=1,dive"`
}

func (r queryRequest) toQuery() (pipeline.Query, error) {
	sel, err := r.Location.selector()
	if err != nil {
		return pipeline.Query{}, err
	}
	q := pipeline.Query{
		Source:    r.Source,
		Place:     r.Place,
		Selector:  sel,
		Season:    domain.Season(r.Season),
		Condition: r.Condition,
	}
	if r.Date != "" {
		q.TargetDate, err = time.Parse(time.DateOnly, r.Date)
		if err != nil {
			return pipeline.Query{}, fmt.Errorf("%w: date: %w", domain.ErrConfiguration, err)
		}
	}
	for _, v := range r.Variables {
		q.Variables = append(q.Variables, pipeline.VariableQuery{
			Name:      v.Name,
			Threshold: v.Threshold,
			Unit:      domain.Unit(v.Unit),
		})
	}
	return q, nil
}

type exportRequest struct {
	Source    string           `json:"source"`
	Place     string           `json:"place" validate:"max=200"`
	Location  *locationRequest `json:"location"`
	Season    string           `json:"season"`
	Variables []string         `json:"variables" validate:"dive,required"`
}

func (s *Server) handleSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sources": s.svc.Sources()})
}

func (s *Server) handleVariables(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	vars, err := s.svc.Variables(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": name, "variables": vars})
}

func (s *Server) handleConditions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"conditions": domain.Conditions()})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	q, err := req.toQuery()
	if err != nil {
		s.writeError(w, err)
		return
	}

	report, err := s.svc.Run(r.Context(), q)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeRequest(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	sel, err := req.Location.selector()
	if err != nil {
		s.writeError(w, err)
		return
	}

	records, err := s.svc.Records(r.Context(), pipeline.ExportQuery{
		Source:    req.Source,
		Place:     req.Place,
		Selector:  sel,
		Season:    domain.Season(req.Season),
		Variables: req.Variables,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	name := req.Source
	if name == "" {
		name = "weather"
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+"_export.csv"))
	if err := domain.WriteCSV(w, records); err != nil {
		s.logger.Warn("write export failed", "source", req.Source, "error", err)
	}
}

// decodeRequest reads a JSON body and validates it. Every failure is a
// configuration error.
func decodeRequest(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %w", domain.ErrConfiguration, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrConfiguration, validationMessage(err))
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), strings.Split(fe.Namespace(), ".")[0]+".")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
	}
	return strings.Join(msgs, "; ")
}

// statusFor maps error kinds to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrUnknownSource):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSchema):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSourceUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
