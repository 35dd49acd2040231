package main

import "github.com/tanq16/trawl/cmd"

func main() {
	cmd.Execute()
}
