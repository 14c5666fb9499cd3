package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ethan/wfd-miracast/pkg/netsession"
	"github.com/ethan/wfd-miracast/pkg/rtsp"
)

// wfdctl sends one diagnostic RTSP request to a running wfdsource or
// wfdsink control port and prints whatever response comes back,
// without driving the full M1-M16 state machine. It exists for probing
// a session from outside the handshake: is OPTIONS answered at all, is
// SET_PARAMETER accepted, can TEARDOWN be forced.
func main() {
	fs := flag.NewFlagSet("wfdctl", flag.ExitOnError)
	addr := fs.String("addr", "127.0.0.1:7236", "RTSP control address to probe")
	method := fs.String("method", "OPTIONS", "RTSP method to send: OPTIONS, GET_PARAMETER, TEARDOWN")
	uri := fs.String("uri", "*", "request URI")
	session := fs.String("session", "", "Session header to send, if any")
	timeout := fs.Duration("timeout", 5*time.Second, "how long to wait for a response")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Probe a Wi-Fi Display RTSP control port with a single request.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	mgr := netsession.NewManager(0, 0)
	conn, sessionID, err := mgr.Dial(ctx, "tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial %s: %v\n", *addr, err)
		os.Exit(1)
	}
	defer mgr.Close(sessionID)

	req := rtsp.NewRequest(*method, *uri, 1)
	req.Header["Require"] = "org.wfa.wfd1.0"
	if *session != "" {
		req.Header["Session"] = *session
	}
	if err := conn.Send(req.Serialize()); err != nil {
		fmt.Fprintf(os.Stderr, "send %s: %v\n", *method, err)
		os.Exit(1)
	}

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(os.Stderr, "timed out waiting for a response to %s\n", *method)
			os.Exit(1)
		case msg := <-mgr.Messages():
			if msg.SessionID != sessionID {
				continue
			}
			switch msg.Kind {
			case netsession.KindControl:
				parsed, _, err := rtsp.Parse(msg.Payload)
				if err != nil {
					fmt.Fprintf(os.Stderr, "malformed response: %v\n", err)
					os.Exit(1)
				}
				printResponse(parsed)
				return
			case netsession.KindClosed:
				if msg.Err != nil {
					fmt.Fprintf(os.Stderr, "connection closed: %v\n", msg.Err)
				} else {
					fmt.Fprintln(os.Stderr, "connection closed before a response arrived")
				}
				os.Exit(1)
			}
		}
	}
}

func printResponse(msg *rtsp.Message) {
	code, _ := msg.StatusCode()
	fmt.Printf("status: %d\n", code)
	if session, ok := msg.Get("Session"); ok {
		fmt.Printf("session: %s\n", session)
	}
	if len(msg.Body) > 0 {
		fmt.Printf("body:\n%s\n", string(msg.Body))
	}
}
