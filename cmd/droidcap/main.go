package main

import "github.com/droidcap/droidcap/cmd/droidcap/commands"

func main() {
	commands.Execute()
}
