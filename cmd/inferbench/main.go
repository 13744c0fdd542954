package main

import "inferbench/internal/cli"

func main() {
	cli.Execute()
}