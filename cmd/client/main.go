package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/andy6609/broadcast-relay/internal/client"
	"github.com/andy6609/broadcast-relay/internal/config"
)

func main() {
	host, port := config.ClientTarget()
	hostFlag := flag.String("host", host, "relay server host")
	portFlag := flag.Int("port", port, "relay server port")
	flag.Parse()

	addr := net.JoinHostPort(*hostFlag, strconv.Itoa(*portFlag))
	conn, err := client.Dial(addr, 5*time.Second, os.Stdout)
	if err != nil {
		if errors.Is(err, client.ErrRefused) {
			fmt.Println("[ERROR] Connection refused. Make sure the server is running.")
		} else {
			fmt.Printf("[ERROR] An error occurred: %v\n", err)
		}
		os.Exit(1)
	}

	if err := client.Run(conn, os.Stdin, os.Stdout); err != nil {
		fmt.Printf("[ERROR] An error occurred: %v\n", err)
		os.Exit(1)
	}
}
