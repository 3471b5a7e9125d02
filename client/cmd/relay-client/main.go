package main

import "github.com/relaystack/relaystack/client/internal/cli"

func main() {
	cli.Execute()
}
