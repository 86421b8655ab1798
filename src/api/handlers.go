package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/nhirsama/Goster-Mission/src/inter"
	"github.com/nhirsama/Goster-Mission/src/mission_manager"
	"github.com/nhirsama/Goster-Mission/src/planfile"
	"github.com/nhirsama/Goster-Mission/src/planner"
	"github.com/nhirsama/Goster-Mission/src/transport"
	"github.com/nhirsama/Goster-Mission/src/uploader"
)

const defaultHistoryLimit = 50

// UploadPayload is the body of POST /upload and POST /compile. Data is a
// pandas "split" JSON table as produced by the planning UI.
type UploadPayload struct {
	Data   string  `json:"data"`
	IP     string  `json:"ip"`
	Port   int     `json:"port"`
	Height float64 `json:"height"`
}

// endpoint is where the ground station listens for the vehicle
func (p UploadPayload) endpoint() string {
	return "udpin:" + net.JoinHostPort(p.IP, strconv.Itoa(p.Port))
}

type errorResponse struct {
	Message     string             `json:"message"`
	InvalidRows []int              `json:"invalid_rows,omitempty"`
	Errors      []rowErrorResponse `json:"errors,omitempty"`
	UploadID    string             `json:"upload_id,omitempty"`
	State       string             `json:"state,omitempty"`
	Result      string             `json:"result,omitempty"`
}

type rowErrorResponse struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type uploadResponse struct {
	Message  string `json:"message"`
	UploadID string `json:"upload_id"`
	Items    int    `json:"items"`
	Resends  int    `json:"resends"`
	Elapsed  string `json:"elapsed"`
}

type compileResponse struct {
	Count int                 `json:"count"`
	Items []inter.MissionItem `json:"items"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, format string, args ...interface{}) {
	writeJSON(w, status, errorResponse{Message: fmt.Sprintf(format, args...)})
}

// readPayload decodes the body and its flight plan. It writes the error
// response itself and returns ok=false on failure.
func (s *Server) readPayload(w http.ResponseWriter, r *http.Request, needTarget bool) (UploadPayload, []inter.FlightPlanRow, bool) {
	var p UploadPayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&p); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid request body: %v", err)
		return p, nil, false
	}
	if strings.TrimSpace(p.Data) == "" {
		writeMessage(w, http.StatusBadRequest, "No data received")
		return p, nil, false
	}
	if needTarget {
		if p.IP == "" {
			writeMessage(w, http.StatusBadRequest, "ip is required")
			return p, nil, false
		}
		if p.Port <= 0 || p.Port > 65535 {
			writeMessage(w, http.StatusBadRequest, "port %d out of range", p.Port)
			return p, nil, false
		}
	}

	rows, err := planfile.ParseSplitJSON(p.Data)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid flight plan: %v", err)
		return p, nil, false
	}
	return p, rows, true
}

// uploadHandler compiles the plan and uploads it to the vehicle
func (s *Server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	p, rows, ok := s.readPayload(w, r, true)
	if !ok {
		return
	}

	out, err := s.manager.Upload(r.Context(), mission_manager.Request{
		Endpoint:       p.endpoint(),
		CruiseAltitude: p.Height,
		Rows:           rows,
	})
	if err != nil {
		s.writeUploadError(w, out, err)
		return
	}

	res := out.Result
	writeJSON(w, http.StatusOK, uploadResponse{
		Message:  "Data received successfully",
		UploadID: out.UploadID,
		Items:    res.TotalItems,
		Resends:  res.Resends,
		Elapsed:  res.Elapsed.String(),
	})
}

// writeUploadError maps the failure taxonomy onto HTTP statuses
func (s *Server) writeUploadError(w http.ResponseWriter, out *mission_manager.Outcome, err error) {
	resp := errorResponse{Message: err.Error()}
	if out != nil {
		resp.UploadID = out.UploadID
		if out.Result != nil {
			resp.State = out.Result.State.String()
		}
	}

	var (
		planErr     *planner.PlanError
		connErr     *transport.ConnectionError
		rejectedErr *uploader.RejectedError
		protoErr    *uploader.ProtocolError
	)
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &planErr):
		status = http.StatusBadRequest
		resp.InvalidRows = planErr.Indices()
		for _, re := range planErr.Rows {
			resp.Errors = append(resp.Errors, rowErrorResponse{Index: re.Index, Reason: re.Reason})
		}
	case errors.As(err, &connErr):
		status = http.StatusBadGateway
		resp.Message = "Cannot communicate with vehicle: " + err.Error()
	case errors.As(err, &rejectedErr):
		status = http.StatusConflict
		resp.Result = rejectedErr.Result.String()
	case errors.As(err, &protoErr):
		status = http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		// gave up while queued behind another upload to the same vehicle
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		s.log.Warn("upload failed", "upload_id", resp.UploadID, "status", status, "error", err)
	}
	writeJSON(w, status, resp)
}

// compileHandler returns the mission items without contacting a vehicle
func (s *Server) compileHandler(w http.ResponseWriter, r *http.Request) {
	p, rows, ok := s.readPayload(w, r, false)
	if !ok {
		return
	}

	plan, err := s.manager.Compile(rows, p.Height)
	if err != nil {
		s.writeUploadError(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, compileResponse{Count: plan.Count(), Items: plan.Items()})
}

// historyHandler lists recent uploads, newest first
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeMessage(w, http.StatusBadRequest, "invalid limit %q", v)
			return
		}
		limit = n
	}

	records, err := s.manager.History(limit)
	if err != nil {
		s.log.Error("listing uploads failed", "error", err)
		writeMessage(w, http.StatusInternalServerError, "listing uploads failed")
		return
	}
	if records == nil {
		records = []inter.UploadRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"uploads": records})
}

func (s *Server) uploadRecordHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.manager.Lookup(id)
	if errors.Is(err, inter.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "upload %s not found", id)
		return
	}
	if err != nil {
		s.log.Error("loading upload failed", "upload_id", id, "error", err)
		writeMessage(w, http.StatusInternalServerError, "loading upload failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
