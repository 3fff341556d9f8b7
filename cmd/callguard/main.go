package main

import "github.com/Ant0nioSouza/callguard/internal/cli"

func main() {
	cli.Execute()
}
