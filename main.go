package main

import "github.com/telvos/ferry/cmd"

func main() {
	cmd.Execute()
}
