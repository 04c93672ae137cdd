package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"gorm.io/gorm"
)

// QueueStatus exposes the upload queue and session manager state to the
// health endpoint.
type QueueStatus interface {
	Pending() int
}

// ManagerStatus exposes the processing dispatcher state.
type ManagerStatus interface {
	QueueLength() int
	Processing() bool
}

// HealthHandler handles the health check endpoint.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *gorm.DB
	uploads   QueueStatus
	manager   ManagerStatus
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithUploads sets the upload queue for depth reporting.
func (h *HealthHandler) WithUploads(uploads QueueStatus) *HealthHandler {
	h.uploads = uploads
	return h
}

// WithManager sets the session manager for dispatcher reporting.
func (h *HealthHandler) WithManager(manager ManagerStatus) *HealthHandler {
	h.manager = manager
	return h
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns service health including system metrics and queue depths",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Tags:        []string{"System"},
	}, h.GetReadyz)
}

// LivezInput is the input for the liveness probe.
type LivezInput struct{}

// LivezOutput is the output for the liveness probe.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// GetLivez reports that the process is alive.
func (h *HealthHandler) GetLivez(ctx context.Context, input *LivezInput) (*LivezOutput, error) {
	out := &LivezOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// ReadyzInput is the input for the readiness probe.
type ReadyzInput struct{}

// ReadyzOutput is the output for the readiness probe.
type ReadyzOutput struct {
	Body struct {
		Status   string `json:"status"`
		Database string `json:"database"`
	}
}

// GetReadyz reports whether the service can take traffic.
func (h *HealthHandler) GetReadyz(ctx context.Context, input *ReadyzInput) (*ReadyzOutput, error) {
	out := &ReadyzOutput{}
	db := h.databaseHealth(ctx)
	out.Body.Database = db.Status
	if db.Status == "ok" {
		out.Body.Status = "ready"
	} else {
		out.Body.Status = "not_ready"
	}
	return out, nil
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status        string         `json:"status"`
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	Uptime        string         `json:"uptime"`
	UptimeSeconds float64        `json:"uptimeSeconds"`
	CPU           CPUInfo        `json:"cpu"`
	Memory        MemoryInfo     `json:"memory"`
	Database      DatabaseHealth `json:"database"`
	Queues        QueueHealth    `json:"queues"`
}

// CPUInfo reports core count and load averages.
type CPUInfo struct {
	Cores     int     `json:"cores"`
	Load1Min  float64 `json:"load1Min"`
	Load5Min  float64 `json:"load5Min"`
	Load15Min float64 `json:"load15Min"`
}

// MemoryInfo reports system and process memory in MB.
type MemoryInfo struct {
	TotalMB     float64 `json:"totalMb"`
	UsedMB      float64 `json:"usedMb"`
	AvailableMB float64 `json:"availableMb"`
	ProcessMB   float64 `json:"processMb"`
}

// DatabaseHealth reports metadata store reachability.
type DatabaseHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// QueueHealth reports the replication and processing backlogs.
type QueueHealth struct {
	PendingUploads  int  `json:"pendingUploads"`
	QueuedSessions  int  `json:"queuedSessions"`
	Processing      bool `json:"processing"`
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPU:           h.cpuInfo(),
		Memory:        h.memoryInfo(),
		Database:      h.databaseHealth(ctx),
	}
	if resp.Database.Status != "ok" {
		resp.Status = "degraded"
	}
	if h.uploads != nil {
		resp.Queues.PendingUploads = h.uploads.Pending()
	}
	if h.manager != nil {
		resp.Queues.QueuedSessions = h.manager.QueueLength()
		resp.Queues.Processing = h.manager.Processing()
	}

	return &HealthOutput{Body: resp}, nil
}

func (h *HealthHandler) cpuInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}
	if loadAvg, err := load.Avg(); err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
	}
	return info
}

func (h *HealthHandler) memoryInfo() MemoryInfo {
	info := MemoryInfo{}
	if vmStat, err := mem.VirtualMemory(); err == nil && vmStat != nil {
		info.TotalMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMB = float64(vmStat.Used) / 1024 / 1024
		info.AvailableMB = float64(vmStat.Available) / 1024 / 1024
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
			info.ProcessMB = float64(memInfo.RSS) / 1024 / 1024
		}
	}
	return info
}

func (h *HealthHandler) databaseHealth(ctx context.Context) DatabaseHealth {
	if h.db == nil {
		return DatabaseHealth{Status: "unconfigured"}
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return DatabaseHealth{Status: "error", Error: err.Error()}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return DatabaseHealth{Status: "error", Error: err.Error()}
	}
	return DatabaseHealth{Status: "ok"}
}
