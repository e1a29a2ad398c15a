package main

import "github.com/endorses/tlsniff/cmd"

func main() {
	cmd.Execute()
}
