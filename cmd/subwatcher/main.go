package main

import "github.com/vnavascues/substrate-watcher/internal/cli"

func main() {
	cli.Execute()
}
