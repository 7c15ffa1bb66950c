// Command tcprecv accepts a file from a tcpsend peer over UDP-framed
// IPv4/TCP packets and writes it to disk.
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
		local    = flag.String("local", "127.0.0.1:5001", "local UDP address")
		remote   = flag.String("remote", "127.0.0.1:5000", "remote UDP address")
		path     = flag.String("file", "", "destination file")
		rtoMS    = flag.Uint64("rto", 1000, "initial retransmission timeout (ms)")
		capacity = flag.Uint64("capacity", 65535, "stream buffer capacity (bytes)")
	)
	flag.Parse()
	if *path == "" {
		log.Fatal("tcprecv: missing -file")
	}

	file, err := os.Create(*path)
	if err != nil {
		log.Fatalf("tcprecv: %v", err)
	}
	defer file.Close()

	conn, err := udplink.Dial(*local, *remote, *capacity, *rtoMS)
	if err != nil {
		log.Fatalf("tcprecv: %v", err)
	}
	defer conn.Close()

	// This side only receives; its own direction carries nothing.
	conn.Peer().Outbound().Close()

	in := conn.Peer().Inbound()
	buf := make([]byte, 32*1024)
	var received uint64
	done := false
	for !done {
		for {
			n, err := in.Read(buf)
			if n > 0 {
				received += uint64(n)
				if _, werr := file.Write(buf[:n]); werr != nil {
					log.Fatalf("tcprecv: write %s: %v", *path, werr)
				}
			}
			if err == io.EOF {
				done = true
				break
			}
			if err != nil {
				log.Fatal("tcprecv: connection reset")
			}
			if n == 0 {
				break
			}
		}
		if done {
			break
		}
		if err := conn.Poll(); err != nil {
			log.Fatalf("tcprecv: %v", err)
		}
	}

	// The final ack can be lost; answer FIN retransmissions for a while.
	linger := time.Duration(*rtoMS) * 10 * time.Millisecond
	for time.Since(conn.LastSeen()) < linger {
		if err := conn.Poll(); err != nil {
			log.Fatalf("tcprecv: %v", err)
		}
	}
	log.Printf("tcprecv: received %d bytes", received)
}
