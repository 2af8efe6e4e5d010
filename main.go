package main

import "reportq/cmd"

func main() {
	cmd.Run()
}
