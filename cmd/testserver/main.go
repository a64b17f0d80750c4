// Command testserver runs loopback TCP and UDP targets for manual fuzzing runs.
//
// Usage:
//
//	testserver [flags]
//
// Flags:
//
//	-host      Host to bind to (default: 127.0.0.1)
//	-tcp-port  TCP port to listen on (default: 9000, 0 disables)
//	-udp-port  UDP port to listen on (default: 9001, 0 disables)
//	-echo      Echo every payload back to its sender (default: true)
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"faultline/testserver"
)

func main() {
	host := flag.String("host", "127.0.0.1", "host to bind to")
	tcpPort := flag.Int("tcp-port", 9000, "TCP port to listen on (0 disables)")
	udpPort := flag.Int("udp-port", 9001, "UDP port to listen on (0 disables)")
	echo := flag.Bool("echo", true, "echo payloads back to the sender")
	flag.Parse()

	server, err := testserver.Start(testserver.Options{
		Host:    *host,
		TCPPort: *tcpPort,
		UDPPort: *udpPort,
		Echo:    *echo,
		NoTCP:   *tcpPort == 0,
		NoUDP:   *udpPort == 0,
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("Faultline Test Server")
	fmt.Println("=====================")
	if addr := server.TCPAddr(); addr != "" {
		fmt.Printf("TCP  %s\n", addr)
	}
	if addr := server.UDPAddr(); addr != "" {
		fmt.Printf("UDP  %s\n", addr)
	}
	fmt.Printf("Echo %v\n\n", *echo)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fmt.Printf("received %d payloads, %d bytes, %d connections\n",
				server.Received(), server.Bytes(), server.Connections())
		case <-sigCh:
			fmt.Println("\nShutting down...")
			server.Close()
			return
		}
	}
}
