package main

import "github.com/audiolibrelab/soundlines/cmd"

func main() {
	cmd.Execute()
}
