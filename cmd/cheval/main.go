package main

import "github.com/hounfour/cheval/cmd/cheval/commands"

func main() {
	commands.Execute()
}
