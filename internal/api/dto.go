package api

import (
	"path/filepath"
	"time"

	"github.com/dexft/dexft/internal/config/store"
	"github.com/dexft/dexft/internal/controller"
	daemonruntime "github.com/dexft/dexft/internal/runtime"
	"github.com/dexft/dexft/internal/toggle"
	"github.com/dexft/dexft/internal/version"
)

// ToggleDTO is the data transfer object for the on/off toggle.
type ToggleDTO struct {
	Enabled bool   `json:"enabled"`
	State   string `json:"state"`
	Status  string `json:"status"`
	Address string `json:"address,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// ToggleRequest is the body accepted by POST /toggle.
type ToggleRequest struct {
	Enabled *bool `json:"enabled"`
}

// ServiceDTO reports one supervised daemon service.
type ServiceDTO struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

// StatusDTO is the payload of GET /status.
type StatusDTO struct {
	State     string       `json:"state"`
	Since     time.Time    `json:"since"`
	LastError string       `json:"last_error,omitempty"`
	UptimeMS  int64        `json:"uptime_ms"`
	Grants    int          `json:"grants"`
	Toggle    ToggleDTO    `json:"toggle"`
	Version   string       `json:"version"`
	Revision  string       `json:"revision,omitempty"`
	GoVersion string       `json:"go_version"`
	Platform  string       `json:"platform"`
	StartedAt time.Time    `json:"started_at"`
	Services  []ServiceDTO `json:"services,omitempty"`
}

// AddressDTO is the payload of GET /address.
type AddressDTO struct {
	Running bool   `json:"running"`
	Address string `json:"address,omitempty"`
	Status  string `json:"status"`
}

// MediaFileDTO exposes an indexed shared file.
type MediaFileDTO struct {
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	MimeType string    `json:"mime_type,omitempty"`
	ModTime  time.Time `json:"mod_time"`
}

// MediaListDTO is the payload of GET /media.
type MediaListDTO struct {
	Files []MediaFileDTO `json:"files"`
}

// ShutdownDTO acknowledges POST /daemon/shutdown.
type ShutdownDTO struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ToToggleDTO converts a toggle view.
func ToToggleDTO(v toggle.View) ToggleDTO {
	return ToggleDTO{
		Enabled: v.Enabled,
		State:   v.State,
		Status:  v.Status,
		Address: v.Address,
		Reason:  v.Reason,
	}
}

// ToStatusDTO assembles the status payload from the controller snapshot and
// the surrounding daemon metadata.
func ToStatusDTO(snap controller.Snapshot, view toggle.View, info version.Info, startedAt time.Time, services []daemonruntime.ServiceStatus) StatusDTO {
	dto := StatusDTO{
		State:     string(snap.State),
		Since:     snap.Since,
		LastError: snap.LastError,
		UptimeMS:  snap.Uptime.Milliseconds(),
		Grants:    snap.Grants,
		Toggle:    ToToggleDTO(view),
		Version:   info.Version,
		Revision:  info.Revision,
		GoVersion: info.GoVersion,
		Platform:  info.Platform,
		StartedAt: startedAt,
	}
	for _, svc := range services {
		dto.Services = append(dto.Services, ServiceDTO{Name: svc.Name, Running: svc.Running})
	}
	return dto
}

// ToMediaDTO converts a stored media row.
func ToMediaDTO(f store.MediaFile) MediaFileDTO {
	return MediaFileDTO{
		Path:     f.Path,
		Name:     filepath.Base(f.Path),
		Size:     f.Size,
		MimeType: f.MimeType,
		ModTime:  f.ModTime,
	}
}

// ToMediaDTOList converts stored media rows, never returning nil.
func ToMediaDTOList(files []store.MediaFile) []MediaFileDTO {
	dtos := make([]MediaFileDTO, len(files))
	for i, f := range files {
		dtos[i] = ToMediaDTO(f)
	}
	return dtos
}

// Websocket stream frame types.
const (
	StreamToggleState   = "toggle_state"
	StreamToggleChanged = "toggle_changed"
)

// StreamMessage is one frame on the /ws stream.
type StreamMessage struct {
	Type      string    `json:"type"`
	Data      ToggleDTO `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}
