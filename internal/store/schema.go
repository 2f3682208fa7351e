package store

const schema = `
CREATE TABLE IF NOT EXISTS settings (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    key TEXT UNIQUE NOT NULL,
    value TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS process_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    process_name TEXT NOT NULL,
    pid INTEGER NOT NULL,
    path TEXT NOT NULL DEFAULT '',
    start_time TEXT NOT NULL,
    end_time TEXT,
    max_cpu_usage REAL NOT NULL DEFAULT 0.0,
    max_memory_usage INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS optimization_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    original_prompt TEXT NOT NULL,
    optimized_prompt TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 0.0,
    tokens_used INTEGER NOT NULL DEFAULT 0,
    processing_time_ms INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS task_folders (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    folder_name TEXT NOT NULL,
    folder_path TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_process_history_pid ON process_history(pid);
`

// Setting keys shared with the rest of the agent.
const (
	SettingAPIKey             = "glm_api_key"
	SettingAutoStart          = "auto_start"
	SettingWindowAlwaysOnTop  = "window_always_on_top"
	SettingMonitoringInterval = "monitoring_interval"
)

var defaultSettings = []struct {
	key, value string
}{
	{SettingAPIKey, ""},
	{SettingAutoStart, "false"},
	{SettingWindowAlwaysOnTop, "true"},
	{SettingMonitoringInterval, "5000"},
}
