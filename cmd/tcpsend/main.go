// Command tcpsend transmits a file to a waiting tcprecv peer over
// UDP-framed IPv4/TCP packets.
package main

import (
	"flag"
	"io"
	"log"
	"os"
	"time"

	"tcp-endpoint/pkg/udplink"
)

func main() {
	var (
		local    = flag.String("local", "127.0.0.1:5000", "local UDP address")
		remote   = flag.String("remote", "127.0.0.1:5001", "remote UDP address")
		path     = flag.String("file", "", "file to send")
		rtoMS    = flag.Uint64("rto", 1000, "initial retransmission timeout (ms)")
		capacity = flag.Uint64("capacity", 65535, "stream buffer capacity (bytes)")
	)
	flag.Parse()
	if *path == "" {
		log.Fatal("tcpsend: missing -file")
	}

	file, err := os.Open(*path)
	if err != nil {
		log.Fatalf("tcpsend: %v", err)
	}
	defer file.Close()

	conn, err := udplink.Dial(*local, *remote, *capacity, *rtoMS)
	if err != nil {
		log.Fatalf("tcpsend: %v", err)
	}
	defer conn.Close()

	out := conn.Peer().Outbound()
	var sent uint64
	eof := false
	for conn.Peer().Active() {
		for !eof && out.AvailableCapacity() > 0 {
			chunk := make([]byte, min(out.AvailableCapacity(), 32*1024))
			n, err := file.Read(chunk)
			if n > 0 {
				out.Push(chunk[:n])
				sent += uint64(n)
			}
			if err == io.EOF {
				eof = true
				out.Close()
				break
			}
			if err != nil {
				log.Fatalf("tcpsend: read %s: %v", *path, err)
			}
		}
		if err := conn.Poll(); err != nil {
			log.Fatalf("tcpsend: %v", err)
		}
	}
	if out.HasError() {
		log.Fatal("tcpsend: connection reset")
	}

	// Stay around long enough to re-ack a retransmitted FIN.
	linger := time.Duration(*rtoMS) * 10 * time.Millisecond
	for time.Since(conn.LastSeen()) < linger {
		if err := conn.Poll(); err != nil {
			log.Fatalf("tcpsend: %v", err)
		}
	}
	log.Printf("tcpsend: sent %d bytes", sent)
}
