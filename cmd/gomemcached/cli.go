package main

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var cliAddr string

var cliCmd = &cobra.Command{
	Use:   "cli",
	Short: "Start a CLI client to connect to a gomemcached server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return startCLI(cliAddr)
	},
}

func init() {
	cliCmd.Flags().StringVar(&cliAddr, "addr", "127.0.0.1:11211", "server address to connect to")
	rootCmd.AddCommand(cliCmd)
}

func startCLI(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()

	log.Printf("Connected to gomemcached at %s\n", addr)

	stdin := bufio.NewReader(os.Stdin)
	server := bufio.NewReader(conn)

	for {
		fmt.Print("> ")
		line, err := stdin.ReadString('\n')
		if err != nil {
			fmt.Println("read input error:", err)
			return err
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			fmt.Println("bye")
			return nil
		}

		if _, err := conn.Write([]byte(line + "\r\n")); err != nil {
			fmt.Println("write error:", err)
			return err
		}

		if err := readReply(server, line); err != nil {
			fmt.Println("read response error:", err)
			return err
		}
	}
}

// readReply prints the server's response for one request. A "get"
// reply is a variable-length run of VALUE lines terminated by END; any
// other command gets exactly one status line.
func readReply(server *bufio.Reader, sentLine string) error {
	isGet := strings.HasPrefix(sentLine, "get ") || sentLine == "get"

	for {
		line, err := server.ReadString('\n')
		if err != nil {
			return err
		}
		trimmed := strings.TrimRight(line, "\r\n")
		fmt.Println(trimmed)

		if !isGet {
			return nil
		}
		if trimmed == "END" {
			return nil
		}
		if strings.HasPrefix(trimmed, "VALUE ") {
			if err := echoValueBody(server, trimmed); err != nil {
				return err
			}
		}
	}
}

// echoValueBody reads and prints the <bytes>-length data block (plus
// its trailing CRLF) that follows a VALUE line.
func echoValueBody(server *bufio.Reader, valueLine string) error {
	fields := strings.Fields(valueLine)
	if len(fields) != 4 {
		return fmt.Errorf("malformed VALUE line %q", valueLine)
	}
	var n int
	if _, err := fmt.Sscanf(fields[3], "%d", &n); err != nil {
		return fmt.Errorf("malformed byte count in %q: %w", valueLine, err)
	}

	body := make([]byte, n+2)
	if _, err := readFull(server, body); err != nil {
		return err
	}
	fmt.Println(string(body[:n]))
	return nil
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
