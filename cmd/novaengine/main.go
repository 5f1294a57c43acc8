// Command novaengine runs one endpoint of the point-to-point voice link:
// it captures the local microphone, encodes and transmits it to a peer
// running the same binary, and decodes and plays back whatever the peer
// sends in return.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/abkarada/nova-voice-engine/internal/config"
	"github.com/abkarada/nova-voice-engine/internal/device"
	"github.com/abkarada/nova-voice-engine/internal/pipeline"
)

// exit codes per spec: 0 success, 1 argument/validation error, 2 runtime
// error, 3 unexpected.
const (
	exitOK         = 0
	exitArgError   = 1
	exitRuntime    = 2
	exitUnexpected = 3
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] TARGET_IP SEND_PORT LISTEN_PORT\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "  TARGET_IP may be \"localhost\" (resolved to 127.0.0.1)\n")
	fmt.Fprintf(os.Stderr, "  SEND_PORT and LISTEN_PORT must differ and be in [1024, 65535]\n\n")
	flag.PrintDefaults()
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) (code int) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("novaengine: unexpected error: %v", r)
			code = exitUnexpected
		}
	}()
	fs := flag.NewFlagSet("novaengine", flag.ContinueOnError)
	fs.Usage = usage
	tun := config.Default()
	config.RegisterFlags(fs, &tun)
	if err := fs.Parse(args); err != nil {
		return exitArgError
	}

	positional := fs.Args()
	if len(positional) != 3 {
		usage()
		return exitArgError
	}

	targetIP := positional[0]
	if targetIP == "localhost" {
		targetIP = "127.0.0.1"
	}

	sendPort, err := strconv.Atoi(positional[1])
	if err != nil {
		log.Printf("novaengine: invalid SEND_PORT %q: %v", positional[1], err)
		return exitArgError
	}
	listenPort, err := strconv.Atoi(positional[2])
	if err != nil {
		log.Printf("novaengine: invalid LISTEN_PORT %q: %v", positional[2], err)
		return exitArgError
	}

	if err := validatePorts(sendPort, listenPort); err != nil {
		log.Printf("novaengine: %v", err)
		return exitArgError
	}

	if err := device.Init(); err != nil {
		log.Printf("novaengine: %v", err)
		return exitRuntime
	}
	defer device.Terminate()

	p, err := pipeline.New(pipeline.Config{
		TargetIP:   targetIP,
		SendPort:   sendPort,
		ListenPort: listenPort,
		Tunables:   tun,
	})
	if err != nil {
		log.Printf("novaengine: %v", err)
		return exitRuntime
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("novaengine: received %v, shutting down", sig)
		cancel()
	}()

	log.Printf("novaengine: target=%s:%d listen=%d bitrate=%dkbps", targetIP, sendPort, listenPort, tun.Bitrate)
	if err := p.Run(ctx); err != nil {
		log.Printf("novaengine: %v", err)
		return exitRuntime
	}

	log.Println("novaengine: stopped")
	return exitOK
}

func validatePorts(sendPort, listenPort int) error {
	if sendPort < 1024 || sendPort > 65535 {
		return fmt.Errorf("send port %d out of range [1024, 65535]", sendPort)
	}
	if listenPort < 1024 || listenPort > 65535 {
		return fmt.Errorf("listen port %d out of range [1024, 65535]", listenPort)
	}
	if sendPort == listenPort {
		return fmt.Errorf("send port and listen port must differ (both %d)", sendPort)
	}
	return nil
}
