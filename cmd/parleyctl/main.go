package main

import "parley/internal/cli"

func main() {
	cli.Execute()
}
