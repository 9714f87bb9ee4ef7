package main

import "github.com/fakeyudi/pocketcode/cmd"

func main() {
	cmd.Execute()
}
