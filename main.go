package main

import "github.com/audiolibrelab/fluidcycle/cmd"

func main() {
	cmd.Execute()
}
