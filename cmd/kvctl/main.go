// Command kvctl is a small client for the kvnode HTTP API.
//
//	kvctl -addr 127.0.0.1:8001 put greeting hello
//	kvctl -addr 127.0.0.1:8001 get greeting
//	kvctl -addr 127.0.0.1:8001 delete greeting
//	kvctl -addr 127.0.0.1:8001 keys
//	kvctl -addr 127.0.0.1:8001 status
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

const maxRedirects = 5

func main() {
	var (
		addr    = flag.String("addr", "127.0.0.1:8001", "HTTP address of any cluster member")
		timeout = flag.Duration("timeout", 5*time.Second, "Request timeout")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	request, err := buildRequest(*addr, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	client := &http.Client{
		Timeout: *timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}
	os.Exit(run(client, request, os.Stdout))
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: kvctl [-addr host:port] <command> [args]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  get <key>          Read a key")
	fmt.Fprintln(os.Stderr, "  put <key> <value>  Write a key")
	fmt.Fprintln(os.Stderr, "  delete <key>       Delete a key")
	fmt.Fprintln(os.Stderr, "  keys               List keys")
	fmt.Fprintln(os.Stderr, "  status             Show the node status")
	fmt.Fprintln(os.Stderr)
	flag.PrintDefaults()
}

// buildRequest converts a command line into an HTTP request against addr.
func buildRequest(addr string, args []string) (*http.Request, error) {
	base := "http://" + addr
	query := url.Values{}

	var method, path string
	switch args[0] {
	case "get":
		if len(args) != 2 {
			return nil, fmt.Errorf("usage: get <key>")
		}
		method, path = http.MethodGet, "/"
		query.Set("key", args[1])
	case "put":
		if len(args) != 3 {
			return nil, fmt.Errorf("usage: put <key> <value>")
		}
		method, path = http.MethodPost, "/"
		query.Set("key", args[1])
		query.Set("value", args[2])
	case "delete":
		if len(args) != 2 {
			return nil, fmt.Errorf("usage: delete <key>")
		}
		method, path = http.MethodDelete, "/"
		query.Set("key", args[1])
	case "keys":
		method, path = http.MethodGet, "/keys"
	case "status":
		method, path = http.MethodGet, "/status"
	default:
		return nil, fmt.Errorf("unknown command %q", args[0])
	}

	target := base + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	return http.NewRequest(method, target, nil)
}

// run sends the request and prints the response body. It returns the exit code.
func run(client *http.Client, request *http.Request, out io.Writer) int {
	response, err := client.Do(request)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer response.Body.Close()

	body, err := io.ReadAll(response.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading response: %v\n", err)
		return 1
	}

	if len(body) > 0 {
		var pretty bytes.Buffer
		if json.Indent(&pretty, body, "", "  ") == nil {
			body = append(pretty.Bytes(), '\n')
		}
		out.Write(body)
	}
	if response.StatusCode >= http.StatusBadRequest {
		fmt.Fprintf(os.Stderr, "%s %s: %s\n", request.Method, request.URL.Path, response.Status)
		return 1
	}
	return 0
}
