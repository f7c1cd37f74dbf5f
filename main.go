package main

import "github.com/deploymenttheory/go-hn4/cmd"

func main() {
	cmd.Execute()
}
