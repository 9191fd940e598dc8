package main

import "github.com/vietddude/taskgraph/internal/cli"

func main() {
	cli.Execute()
}
