package banner

import (
	"fmt"

	"commhub/pkg/config"
)

const banner = `
 ██████╗ ██████╗ ███╗   ███╗███╗   ███╗██╗  ██╗██╗   ██╗██████╗
██╔════╝██╔═══██╗████╗ ████║████╗ ████║██║  ██║██║   ██║██╔══██╗
██║     ██║   ██║██╔████╔██║██╔████╔██║███████║██║   ██║██████╔╝
██║     ██║   ██║██║╚██╔╝██║██║╚██╔╝██║██╔══██║██║   ██║██╔══██╗
╚██████╗╚██████╔╝██║ ╚═╝ ██║██║ ╚═╝ ██║██║  ██║╚██████╔╝██████╔╝
 ╚═════╝ ╚═════╝ ╚═╝     ╚═╝╚═╝     ╚═╝╚═╝  ╚═╝ ╚═════╝ ╚═════╝
`

// Print writes the startup banner with the effective runtime settings
// and a short production checklist.
func Print(cfg *config.Config, addr, dbPath, source, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Listen:   %s\n", addr)
	fmt.Printf("DB Path:  %s\n", dbPath)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if source != "" {
		fmt.Printf("Config:   %s\n", source)
	}

	fmt.Println("\n== Endpoints ==================================================")
	fmt.Println("GET  /v1/ws                        - websocket (authenticate with first frame)")
	fmt.Println("POST /v1/threads                   - create a thread")
	fmt.Println("POST /v1/threads/{id}/messages     - send a message")
	fmt.Println("GET  /v1/notifications             - list notifications")
	fmt.Println("GET  /healthz /metrics /docs")

	fmt.Println("\n== Production? ================================================")
	if cfg != nil && len(cfg.Security.SigningKeys) > 0 {
		fmt.Printf("- Signing keys: OK (%d)\n", len(cfg.Security.SigningKeys))
	} else {
		fmt.Println("- Signing keys: MISSING (all authenticated traffic will be rejected)")
	}
	if cfg != nil && cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "" {
		fmt.Println("- TLS: configured")
	} else {
		fmt.Println("- TLS: unconfigured")
	}
	if dbPath != "" {
		fmt.Println("- DB Path: set")
	} else {
		fmt.Println("- DB Path: not set (use --db or COMMHUB_DB_PATH)")
	}
	if cfg != nil && cfg.Retention.Enabled {
		cron := cfg.Retention.Cron
		if cron == "" {
			cron = "default"
		}
		fmt.Printf("- Retention: enabled (cron=%s)\n", cron)
	} else {
		fmt.Println("- Retention: disabled")
	}

	fmt.Println("\n== Logs =======================================================")
}
