package main

import "github.com/takohq/tako/cmd"

func main() {
	cmd.Execute()
}
