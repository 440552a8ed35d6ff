package main

import "siegebot/cmd/siegebot/commands"

func main() {
	commands.Execute()
}
