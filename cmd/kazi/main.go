package main

import "kazi/cmd/cli"

func main() {
	cli.Execute()
}
