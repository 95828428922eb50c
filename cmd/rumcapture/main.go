package main

import "rumcapture/internal/cli"

func main() {
	cli.Execute()
}
