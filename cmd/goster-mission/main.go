package main

import "github.com/nhirsama/Goster-Mission/cli"

func main() {
	cli.Run()
}
