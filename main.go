package main

import "github.com/agentic-research/dsongraph/cmd"

func main() {
	cmd.Execute()
}
