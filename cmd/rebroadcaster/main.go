package main

import "github.com/ramiqadoumi/delegate-rebroadcast/services/rebroadcaster/cli"

func main() {
	cli.Execute()
}
