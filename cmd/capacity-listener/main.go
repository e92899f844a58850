package main

import "github.com/ramiqadoumi/delegate-rebroadcast/services/capacity-listener/cli"

func main() {
	cli.Execute()
}
