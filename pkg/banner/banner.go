package banner

import (
	"fmt"
)

const banner = `
██████╗  █████╗ ██████╗ ██╗     ███████╗██╗   ██╗
██╔══██╗██╔══██╗██╔══██╗██║     ██╔════╝╚██╗ ██╔╝
██████╔╝███████║██████╔╝██║     █████╗   ╚████╔╝
██╔═══╝ ██╔══██║██╔══██╗██║     ██╔══╝    ╚██╔╝
██║     ██║  ██║██║  ██║███████╗███████╗   ██║
╚═╝     ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚══════╝   ╚═╝
`

// Print writes the startup banner with the effective runtime settings.
func Print(backend, actor, addr, baseDir, sources, version string) {
	fmt.Print(banner)
	fmt.Println("== Config =====================================================")
	fmt.Printf("Backend:  %s\n", backend)
	fmt.Printf("Actor:    %s\n", actor)
	fmt.Printf("Local:    http://%s\n", addr)
	fmt.Printf("State:    %s\n", baseDir)
	if version != "" {
		fmt.Printf("Version:  %s\n", version)
	}
	if sources != "" {
		fmt.Printf("Config sources: %s\n", sources)
	}
	fmt.Println("\n== Local endpoints ============================================")
	fmt.Printf("GET http://%s/healthz - daemon liveness\n", addr)
	fmt.Printf("GET http://%s/metrics - Prometheus metrics\n", addr)
	fmt.Println("\n== Poking around? =============================================")
	fmt.Println("parleyctl conversations            - list your conversations")
	fmt.Println("parleyctl send <conv> 'message'    - send a message")
	fmt.Println("parleyctl watch <conv>             - follow the live feed")
}
