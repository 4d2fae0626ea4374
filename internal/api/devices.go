package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-capture/internal/capture"
)

// maxDeviceIDLen limits the unique ID accepted in a path.
const maxDeviceIDLen = 512

// deviceListResponse is the body of GET /devices and POST /devices/refresh.
type deviceListResponse struct {
	Epoch       string                 `json:"epoch"`
	RefreshedAt time.Time              `json:"refreshed_at"`
	Count       int                    `json:"count"`
	Devices     []capture.DeviceRecord `json:"devices"`
}

// capabilityListResponse is the body of GET /devices/{id}/capabilities.
type capabilityListResponse struct {
	DeviceID     string                      `json:"device_id"`
	Count        int                         `json:"count"`
	Capabilities []capture.CaptureCapability `json:"capabilities"`
}

// bestMatchRequest is the body of POST /devices/{id}/capabilities/best-match.
type bestMatchRequest struct {
	Width       uint32  `json:"width"`
	Height      uint32  `json:"height"`
	MaxFPS      float64 `json:"max_fps"`
	PixelFormat string  `json:"pixel_format"`
}

// bestMatchResponse is the result of a best-match query.
type bestMatchResponse struct {
	DeviceID   string                    `json:"device_id"`
	Index      int                       `json:"index"`
	Capability capture.CaptureCapability `json:"capability"`
	Exact      bool                      `json:"exact"`
}

func newDeviceListResponse(l *capture.DeviceList) deviceListResponse {
	devices := l.Devices
	if devices == nil {
		devices = []capture.DeviceRecord{}
	}
	return deviceListResponse{
		Epoch:       l.Epoch,
		RefreshedAt: l.RefreshedAt.UTC(),
		Count:       len(devices),
		Devices:     devices,
	}
}

// deviceIDParam extracts and unescapes the {id} path parameter. Unique IDs
// may contain slashes (device node paths), so clients path-escape them.
func deviceIDParam(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "id")
	id, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("invalid device ID encoding")
	}
	if id == "" || len(id) > maxDeviceIDLen {
		return "", fmt.Errorf("invalid device ID")
	}
	return id, nil
}

// indexParam parses a non-negative integer path parameter.
func indexParam(r *http.Request, name string) (int, error) {
	n, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return n, nil
}

// handleListDevices returns the current device list, re-enumerating if the
// cached list has expired.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	l, err := s.directory.Snapshot(r.Context())
	if err != nil {
		s.writeCaptureError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDeviceListResponse(l))
}

// handleRefreshDevices forces a re-enumeration regardless of the cache age.
func (s *Server) handleRefreshDevices(w http.ResponseWriter, r *http.Request) {
	l, err := s.directory.Refresh(r.Context())
	if err != nil {
		s.writeCaptureError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDeviceListResponse(l))
}

// handleGetDeviceAt returns the device at a position in the current list.
func (s *Server) handleGetDeviceAt(w http.ResponseWriter, r *http.Request) {
	index, err := indexParam(r, "index")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	rec, err := s.directory.Device(r.Context(), index)
	if err != nil {
		s.writeCaptureError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleGetDevice returns a device by unique ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, err := deviceIDParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	rec, err := s.directory.Lookup(r.Context(), id)
	if err != nil {
		s.writeCaptureError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleListCapabilities returns every capability of a device, building the
// capability map on first use.
func (s *Server) handleListCapabilities(w http.ResponseWriter, r *http.Request) {
	id, err := deviceIDParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	caps, err := s.directory.Capabilities(r.Context(), id)
	if err != nil {
		s.writeCaptureError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, capabilityListResponse{
		DeviceID:     id,
		Count:        len(caps),
		Capabilities: caps,
	})
}

// handleRebuildCapabilities re-queries the backend for a device's formats.
func (s *Server) handleRebuildCapabilities(w http.ResponseWriter, r *http.Request) {
	id, err := deviceIDParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	m, err := s.directory.CreateCapabilityMap(r.Context(), id)
	if err != nil {
		s.writeCaptureError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, capabilityListResponse{
		DeviceID:     id,
		Count:        m.Len(),
		Capabilities: m.All(),
	})
}

// handleGetCapability returns one capability by index.
func (s *Server) handleGetCapability(w http.ResponseWriter, r *http.Request) {
	id, err := deviceIDParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	index, err := indexParam(r, "index")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	c, err := s.directory.Capability(r.Context(), id, index)
	if err != nil {
		s.writeCaptureError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleBestMatch returns the capability closest to the requested mode.
func (s *Server) handleBestMatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := deviceIDParam(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	var body bestMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if body.MaxFPS < 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "max_fps must not be negative")
		return
	}
	req := capture.CaptureCapability{
		Width:       body.Width,
		Height:      body.Height,
		MaxFPS:      body.MaxFPS,
		PixelFormat: capture.ParsePixelFormat(body.PixelFormat),
	}
	if req.PixelFormat == capture.PixelFormatUnknown {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, fmt.Sprintf("unknown pixel format %q", body.PixelFormat))
		return
	}

	index, c, err := s.directory.BestMatchedCapability(ctx, id, req)
	if err != nil {
		s.writeCaptureError(w, r, err)
		return
	}

	if s.selections != nil {
		var epoch string
		if l, err := s.directory.Snapshot(ctx); err == nil {
			epoch = l.Epoch
		}
		s.selections.RecordSelection(ctx, id, epoch, req, index, c)
	}

	writeJSON(w, http.StatusOK, bestMatchResponse{
		DeviceID:   id,
		Index:      index,
		Capability: c,
		Exact:      capture.IsExactMatch(req, c),
	})
}
