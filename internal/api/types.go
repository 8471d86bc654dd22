package api

import (
	"time"

	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/ingestion"
	"github.com/sabihanjum/kasparro-backend-Sabiha-Anjum/internal/source"
)

// RecordResponse is the JSON form of one canonical record.
type RecordResponse struct {
	EntityID    string         `json:"entity_id"`
	ContentHash string         `json:"content_hash"`
	Source      string         `json:"source"`
	SourceID    string         `json:"source_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Content     string         `json:"content,omitempty"`
	Author      string         `json:"author,omitempty"`
	PublishedAt *time.Time     `json:"published_at,omitempty"`
	URL         string         `json:"url,omitempty"`
	Category    string         `json:"category,omitempty"`
	Metadata    source.Payload `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DataResponse is the paginated /data envelope.
type DataResponse struct {
	RequestID  string           `json:"request_id"`
	TotalCount int              `json:"total_count"`
	Count      int              `json:"count"`
	Limit      int              `json:"limit"`
	Offset     int              `json:"offset"`
	Source     string           `json:"source,omitempty"`
	LatencyMs  int64            `json:"latency_ms"`
	Data       []RecordResponse `json:"data"`
}

// RunResponse is the JSON form of one ingestion run.
type RunResponse struct {
	RunID      string     `json:"run_id"`
	Source     string     `json:"source"`
	Status     string     `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	DurationMs int64      `json:"duration_ms"`
	Processed  int        `json:"records_processed"`
	Inserted   int        `json:"records_inserted"`
	Updated    int        `json:"records_updated"`
	Failed     int        `json:"records_failed"`
	Error      string     `json:"error,omitempty"`
}

// HealthResponse is the /health envelope.
type HealthResponse struct {
	Status        string       `json:"status"`
	Database      string       `json:"database"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	LastRun       *RunResponse `json:"last_run,omitempty"`
}

// StatsResponse is the /stats envelope.
type StatsResponse struct {
	RequestID      string        `json:"request_id"`
	TotalRecords   int           `json:"total_records"`
	TotalProcessed int           `json:"total_processed"`
	TotalInserted  int           `json:"total_inserted"`
	TotalFailed    int           `json:"total_failed"`
	RecentRuns     []RunResponse `json:"recent_runs"`
}

// TriggerResponse acknowledges an accepted /etl/run request.
type TriggerResponse struct {
	RequestID string   `json:"request_id"`
	Message   string   `json:"message"`
	Sources   []string `json:"sources"`
}

func toRecordResponse(record *ingestion.CanonicalRecord) RecordResponse {
	return RecordResponse{
		EntityID:    record.EntityID,
		ContentHash: record.ContentHash,
		Source:      record.Source,
		SourceID:    record.SourceID,
		Title:       record.Fields.Title,
		Description: record.Fields.Description,
		Content:     record.Fields.Content,
		Author:      record.Fields.Author,
		PublishedAt: record.Fields.PublishedAt,
		URL:         record.Fields.URL,
		Category:    record.Fields.Category,
		Metadata:    record.Fields.Metadata,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
}

func toRunResponse(run *ingestion.RunRecord) RunResponse {
	response := RunResponse{
		RunID:      run.RunID,
		Source:     run.Source,
		Status:     string(run.Status),
		StartTime:  run.StartTime,
		DurationMs: run.DurationMs,
		Processed:  run.Processed,
		Inserted:   run.Inserted,
		Updated:    run.Updated,
		Failed:     run.Failed,
		Error:      run.ErrorMessage,
	}

	if !run.EndTime.IsZero() {
		endTime := run.EndTime
		response.EndTime = &endTime
	}

	return response
}
