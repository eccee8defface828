package main

import "github.com/agentic-research/veneer/cmd"

func main() {
	cmd.Execute()
}
