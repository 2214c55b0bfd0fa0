/*Command bode impersonates a Siglent AWG's LXI/VXI-11 surface to a Siglent
oscilloscope's Bode-plot feature, translating the SCPI subset the scope
issues into calls on a real AWG reached over serial or VISA transport.

Usage:

	bode <driver_name> [<port>] [<baud_rate>] [-udp] [-h]
	bode <driver_name> [<port>] [<baud_rate>] [-udp] -config <file.yaml>

Grounded on golaborate's cmd/multiserver (os.Args dispatch, no flag-parsing
library, koanf-layered config) generalized from a multi-device HTTP server
to this single-purpose VXI-11 responder.
*/
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fatih/color"
	yml "gopkg.in/yaml.v2"

	"github.com/bdube/bode/awg"
	"github.com/bdube/bode/diagsrv"
	"github.com/bdube/bode/portmap"
	"github.com/bdube/bode/scpi"
	"github.com/bdube/bode/vxi11"
)

var validDrivers = []string{"jds6600", "bk4075", "fy6600", "fy", "ad9910", "dg800", "utg1000x", "dummy"}

func usage() {
	fmt.Println(`bode <driver_name> [<port>] [<baud_rate>] [-udp] [-h]
bode <driver_name> [<port>] [<baud_rate>] [-udp] -config <file.yaml>

driver_name one of: jds6600, bk4075, fy6600, fy, ad9910, dg800, utg1000x, dummy
port        device path (serial drivers) or VISA resource string (dg800/utg1000x); omitted for dummy
baud_rate   applies only to bk4075 (default 19200); other serial drivers fix 115200
-udp        also bind Portmap on UDP/111 (required for SDS800X-HD scopes)
-diag-addr  optional address (e.g. ":8080") for the read-only HTTP diagnostics endpoint
-config     optional YAML file layered under these arguments
-dump-config print the configuration loaded from defaults and -config as YAML
            to stdout and exit (the other arguments are not applied), the
            same shape -config expects back, akin to golaborate's "conf" subcommand`)
}

func buildRegistry() *awg.Registry {
	r := awg.NewRegistry()
	r.Register("dummy", awg.NewDummy)
	for _, dialect := range []string{"jds6600", "bk4075", "fy6600", "fy", "ad9910"} {
		dialect := dialect
		r.Register(dialect, func(target string, baud int) (awg.Driver, error) {
			return awg.NewSerialDriver(dialect, target, baud)
		})
	}
	r.Register("dg800", func(target string, baud int) (awg.Driver, error) {
		return awg.NewVISADriver(target, baud)
	})
	r.Register("utg1000x", func(target string, baud int) (awg.Driver, error) {
		return awg.NewVISADriver(target, baud)
	})
	return r
}

// parseArgs fills in the positional and flag arguments of the CLI grammar
// above on top of cfg, which may already carry values from -config.
func parseArgs(args []string, cfg Config) (Config, error) {
	var positional []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-h", "--help":
			usage()
			os.Exit(0)
		case "-udp":
			cfg.UDP = true
		case "-diag-addr":
			i++
			if i >= len(args) {
				return cfg, fmt.Errorf("bode: -diag-addr requires a value")
			}
			cfg.DiagAddr = args[i]
		case "-config":
			i++ // consumed by main before parseArgs runs; skip its value here too
		default:
			positional = append(positional, args[i])
		}
	}
	if len(positional) == 0 {
		return cfg, fmt.Errorf("bode: missing driver_name")
	}
	cfg.Driver = positional[0]
	if len(positional) >= 2 {
		cfg.Target = positional[1]
	}
	if len(positional) >= 3 {
		baud, err := strconv.Atoi(positional[2])
		if err != nil {
			return cfg, fmt.Errorf("bode: invalid baud_rate %q: %w", positional[2], err)
		}
		cfg.Baud = baud
	}
	if !isValidDriver(cfg.Driver) {
		return cfg, fmt.Errorf("bode: unknown driver_name %q (want one of %v)", cfg.Driver, validDrivers)
	}
	return cfg, nil
}

func isValidDriver(name string) bool {
	for _, v := range validDrivers {
		if v == name {
			return true
		}
	}
	return false
}

// configFileArg scans raw CLI args for "-config <path>" ahead of the main
// parse, since the file it names supplies defaults the rest of parseArgs
// may leave untouched.
func configFileArg(args []string) string {
	for i, a := range args {
		if a == "-config" && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func hasFlag(args []string, name string) bool {
	for _, a := range args {
		if a == name {
			return true
		}
	}
	return false
}

func main() {
	args := os.Args[1:]
	cfg, err := loadConfig(configFileArg(args))
	if err != nil {
		log.Fatalf("bode: loading config: %v", err)
	}
	if hasFlag(args, "-dump-config") {
		if err := yml.NewEncoder(os.Stdout).Encode(cfg); err != nil {
			log.Fatalf("bode: dumping config: %v", err)
		}
		return
	}
	cfg, err = parseArgs(args, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		usage()
		os.Exit(1)
	}

	banner := color.New(color.FgCyan, color.Bold)
	banner.Printf("bode: impersonating a Siglent AWG for driver %q\n", cfg.Driver)

	registry := buildRegistry()
	driver, err := registry.New(cfg.Driver, cfg.Target, cfg.Baud)
	if err != nil {
		log.Fatalf("bode: building driver: %v", err)
	}
	if err := driver.Connect(); err != nil {
		log.Fatalf("bode: driver connect failed: %v", err)
	}
	defer driver.Disconnect()

	ports := vxi11.NewPortCycle(9009, 9010)
	vxi11Log := log.New(os.Stdout, "vxi11: ", log.LstdFlags)
	portmapLog := log.New(os.Stdout, "portmap: ", log.LstdFlags)
	scpiLog := log.New(os.Stdout, "scpi: ", log.LstdFlags)

	dispatcher := scpi.NewDispatcher(driver, scpiLog)
	vxiSrv := vxi11.New(ports, cfg.Host, dispatcher, vxi11Log)
	pm := portmap.New(ports, portmapLog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		color.Yellow("bode: shutting down")
		cancel()
	}()

	if cfg.DiagAddr != "" {
		diag := diagsrv.New(ports, dispatcher.Bank, log.New(os.Stdout, "diagsrv: ", log.LstdFlags))
		go func() {
			if err := http.ListenAndServe(cfg.DiagAddr, diag); err != nil {
				log.Printf("bode: diagsrv stopped: %v", err)
			}
		}()
	}

	if cfg.UDP {
		udpAddr := net.JoinHostPort(cfg.Host, strconv.Itoa(portmap.PortmapPort))
		udpConn, err := net.ListenPacket("udp", udpAddr)
		if err != nil {
			log.Fatalf("bode: bind UDP %s: %v", udpAddr, err)
		}
		go func() {
			<-ctx.Done()
			udpConn.Close()
		}()
		go pm.ServeUDP(ctx, udpConn)
	}

	tcpAddr := net.JoinHostPort(cfg.Host, strconv.Itoa(portmap.PortmapPort))
	ln, err := net.Listen("tcp", tcpAddr)
	if err != nil {
		log.Fatalf("bode: bind TCP %s: %v", tcpAddr, err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	go pm.ServeTCP(ctx, ln)

	if err := vxiSrv.Serve(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("bode: vxi11 server exited: %v", err)
	}
}
