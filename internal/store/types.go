package store

import "time"

// Setting is one key/value pair.
type Setting struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OptimizationRecord is one entry in the optimization history log.
type OptimizationRecord struct {
	ID               int64     `json:"id"`
	OriginalPrompt   string    `json:"originalPrompt"`
	OptimizedPrompt  string    `json:"optimizedPrompt"`
	Confidence       float64   `json:"confidence"`
	TokensUsed       int       `json:"tokensUsed"`
	ProcessingTimeMs int64     `json:"processingTimeMs"`
	CreatedAt        time.Time `json:"createdAt"`
}

// ProcessHistory records the lifetime and peak usage of a tracked IDE process.
type ProcessHistory struct {
	ID             int64      `json:"id"`
	ProcessName    string     `json:"processName"`
	PID            uint32     `json:"pid"`
	Path           string     `json:"path"`
	StartTime      time.Time  `json:"startTime"`
	EndTime        *time.Time `json:"endTime,omitempty"`
	MaxCPUUsage    float64    `json:"maxCpuUsage"`
	MaxMemoryUsage uint64     `json:"maxMemoryUsage"`
}

// TaskFolder is a folder created on behalf of the user.
type TaskFolder struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}
