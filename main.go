package main

import "github.com/audiolibrelab/segcapture/cmd"

func main() {
	cmd.Execute()
}
