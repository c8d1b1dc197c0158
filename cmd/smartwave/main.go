package main

import "github.com/OpenTraceLab/OpenTraceWave/cmd/smartwave/cmd"

func main() {
	cmd.Execute()
}
