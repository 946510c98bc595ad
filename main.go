package main

import "github.com/Skryldev/schemakit/cmd"

func main() {
	cmd.Execute()
}
