package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# etfwatch configuration

[data]
# Directory holding <fund>_holdings.json files and derived artifacts.
# The DATA_DIR environment variable overrides this value.
# dir = "~/.config/etfwatch/data"
# Snapshot store backend: "json" or "sqlite"
backend = "json"
# sqlite_path = ""

[thresholds]
# Positions at or below this many shares count as absent (5 lots).
presence_shares = 5000
# Major change: weight move in percent points, or share count move.
# The batch reprocessing path historically used 0.25 / 1000 here;
# these defaults follow the live comparison path.
weight_major = 0.25
count_major = 50000
# Detailed listing: share count move strictly above this value.
count_detailed = 30000
# Annotate major changes with their weight move from this many percent points.
weight_display = 0.15

[filter]
# Ignore rows whose code is not purely numeric (cash, futures, margin).
numeric_codes_only = true

[artifacts]
report_file = "processed_etf_data.json"
history_file = "stock_history_data.json"

[logging]
# debug, info, warn, error
level = "info"
console = true
file = true
max_size = 20
max_backups = 5
max_age = 30

[[funds]]
id = "00980A"
name = "野村臺灣智慧優選主動式ETF"

[[funds]]
id = "00981A"
name = "統一台股增長"

[[funds]]
id = "00982A"
name = "群益台灣精選強棒主動式ETF基金"

# Display names used when a snapshot carries none.
[names]
"2317" = "鴻海"
"2330" = "台積電"
"2454" = "聯發科"
"2308" = "台達電"
"3711" = "日月光"
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
