package main

import "github.com/winguard/winguard/internal/cli"

func main() {
	cli.Execute()
}
