package main

import "github.com/flowagencyai/wabot/cmd"

func main() {
	cmd.Execute()
}
