package main

import "github.com/agusx1211/liteagent/internal/cli"

func main() {
	cli.Execute()
}
