package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// NodeInfo describes the machine the service runs on. Fields gopsutil
// cannot read are left zero.
type NodeInfo struct {
	Hostname      string `json:"hostname,omitempty"`
	OS            string `json:"os"`
	Platform      string `json:"platform,omitempty"`
	Version       string `json:"platform_version,omitempty"`
	UptimeSeconds uint64 `json:"uptime_seconds,omitempty"`
	CPUCores      int    `json:"cpu_cores,omitempty"`
	MemoryTotal   uint64 `json:"memory_total_bytes,omitempty"`
	MemoryUsed    uint64 `json:"memory_used_bytes,omitempty"`
}

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status     string         `json:"status"`
	Version    string         `json:"version,omitempty"`
	Database   string         `json:"database"`
	ScriptsDir string         `json:"scripts_dir"`
	Counts     map[string]int `json:"counts"`
	Uptime     string         `json:"uptime"`
	Node       NodeInfo       `json:"node"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := HealthResponse{
		Status:     "healthy",
		Version:    s.opts.Version,
		Database:   "connected",
		ScriptsDir: s.deps.Catalog.Dir(),
		Counts:     map[string]int{"executions": len(s.deps.Orchestrator.List())},
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		Node:       s.node(),
	}

	status := http.StatusOK
	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Database = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		if hosts, err := s.deps.Hosts.List(ctx); err == nil {
			resp.Counts["hosts"] = len(hosts)
		}
		if scripts, err := s.deps.Catalog.List(ctx); err == nil {
			resp.Counts["scripts"] = len(scripts)
		}
	}

	respondJSON(w, status, resp)
}

func collectNodeInfo() NodeInfo {
	info := NodeInfo{OS: runtime.GOOS}

	if h, err := host.Info(); err == nil {
		info.Hostname = h.Hostname
		info.Platform = h.Platform
		info.Version = h.PlatformVersion
		info.UptimeSeconds = h.Uptime
	}
	if n, err := cpu.Counts(true); err == nil {
		info.CPUCores = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemoryTotal = vm.Total
		info.MemoryUsed = vm.Used
	}
	return info
}
