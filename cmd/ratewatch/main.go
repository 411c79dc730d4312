package main

import "github.com/rafappelt/crypto-dashboard/internal/cli"

func main() {
	cli.Execute()
}
