package main

import "github.com/mbergkamp/ratchet/internal/cli"

func main() {
	cli.Execute()
}
